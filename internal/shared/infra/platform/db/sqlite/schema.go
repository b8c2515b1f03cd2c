package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// tsLayout es ISO-8601 UTC de ancho fijo, así el orden lexicográfico coincide con el temporal.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

// Open abre la base con WAL y synchronous=FULL: un commit devuelto está en disco.
func Open(path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", path, q.Encode()))
	if err != nil {
		return nil, err
	}
	return db, nil
}

// InitSchema crea las tablas streams, events y outbox si no existen.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS streams (
            stream_id TEXT PRIMARY KEY,
            version INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS events (
            stream_id TEXT NOT NULL,
            sequence_number INTEGER NOT NULL,
            event_type TEXT NOT NULL,
            payload BLOB NOT NULL,
            occurred_at TEXT NOT NULL,
            correlation_id TEXT NOT NULL,
            PRIMARY KEY (stream_id, sequence_number)
        )`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id TEXT PRIMARY KEY,
            stream_id TEXT NOT NULL,
            sequence_number INTEGER NOT NULL,
            correlation_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            topic TEXT NOT NULL,
            payload BLOB NOT NULL,
            status TEXT NOT NULL,
            created_at TEXT NOT NULL,
            published_at TEXT,
            attempt_count INTEGER NOT NULL DEFAULT 0,
            next_attempt_at TEXT NOT NULL,
            lease_owner TEXT,
            lease_until TEXT,
            last_error TEXT,
            UNIQUE (stream_id, sequence_number)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, created_at, sequence_number)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init sqlite schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
