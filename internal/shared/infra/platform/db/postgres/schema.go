package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL
)

// Open abre un *sql.DB con el driver pgx.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// InitSchema crea las tablas 'streams', 'events' y 'outbox' si no existen.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS streams (
        stream_id TEXT PRIMARY KEY,
        version BIGINT NOT NULL
    )`,
		`CREATE TABLE IF NOT EXISTS events (
        stream_id TEXT NOT NULL,
        sequence_number BIGINT NOT NULL,
        event_type TEXT NOT NULL,
        payload BYTEA NOT NULL,
        occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
        correlation_id TEXT NOT NULL,
        PRIMARY KEY (stream_id, sequence_number)
    )`,
		`CREATE TABLE IF NOT EXISTS outbox (
        id UUID PRIMARY KEY,
        stream_id TEXT NOT NULL,
        sequence_number BIGINT NOT NULL,
        correlation_id TEXT NOT NULL,
        event_type TEXT NOT NULL,
        topic TEXT NOT NULL,
        payload JSONB NOT NULL,
        status TEXT NOT NULL,
        created_at TIMESTAMP WITH TIME ZONE NOT NULL,
        published_at TIMESTAMP WITH TIME ZONE,
        attempt_count INT NOT NULL DEFAULT 0,
        next_attempt_at TIMESTAMP WITH TIME ZONE NOT NULL,
        lease_owner TEXT,
        lease_until TIMESTAMP WITH TIME ZONE,
        last_error TEXT,
        UNIQUE (stream_id, sequence_number)
    )`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, created_at, sequence_number)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init postgres schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
