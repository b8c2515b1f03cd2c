package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// DeliveryAuditRepo guarda en ClickHouse los desenlaces terminales del dispatcher.
type DeliveryAuditRepo struct {
	db *sql.DB
}

// NewDeliveryAuditRepo es el constructor.
func NewDeliveryAuditRepo(addr string, dbName string) (*DeliveryAuditRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &DeliveryAuditRepo{db: conn}, nil
}

// InitSchema crea la tabla en ClickHouse si no existe.
// Se particiona por mes y se ordena por los campos comunes de consulta.
func (r *DeliveryAuditRepo) InitSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_delivery_log (
			entry_id       UUID,
			stream_id      String,
			event_type     String,
			correlation_id String,
			status         String,
			attempts       UInt32,
			last_error     String,
			event_time     DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (event_type, status, event_time);
	`
	_, err := r.db.Exec(query)
	return err
}

func (r *DeliveryAuditRepo) Record(ctx context.Context, rec sharedDomain.DeliveryRecord) error {
	return r.LogBatch(ctx, []sharedDomain.DeliveryRecord{rec})
}

// LogBatch inserta un lote de registros; ClickHouse funciona mejor con inserciones en lotes.
func (r *DeliveryAuditRepo) LogBatch(ctx context.Context, recs []sharedDomain.DeliveryRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO outbox_delivery_log (entry_id, stream_id, event_type, correlation_id, status, attempts, last_error, event_time)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.EntryID,
			rec.StreamID,
			rec.EventType,
			rec.CorrelationID,
			string(rec.Status),
			uint32(rec.Attempts),
			rec.LastError,
			rec.At,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for outbox entry %s: %w", rec.EntryID, err)
		}
	}
	return tx.Commit()
}

// Summary agrega publicados y fallidos por tipo de evento entre start y end.
func (r *DeliveryAuditRepo) Summary(ctx context.Context, start, end time.Time) ([]sharedDomain.DeliveryStats, error) {
	query := `
		SELECT
			event_type,
			countIf(status = 'published') AS published,
			countIf(status = 'failed') AS failed,
			avg(attempts) AS avg_attempts
		FROM outbox_delivery_log
		WHERE event_time BETWEEN ? AND ?
		GROUP BY event_type
		ORDER BY event_type
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []sharedDomain.DeliveryStats
	for rows.Next() {
		var s sharedDomain.DeliveryStats
		if err := rows.Scan(&s.EventType, &s.Published, &s.Failed, &s.AvgAttempts); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *DeliveryAuditRepo) Close() error {
	return r.db.Close()
}

// Verificación estática de la interfaz.
var _ sharedDomain.DeliveryAudit = (*DeliveryAuditRepo)(nil)
