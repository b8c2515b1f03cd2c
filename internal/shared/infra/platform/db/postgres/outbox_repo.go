package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/google/uuid"
)

const outboxColumns = `id, stream_id, sequence_number, correlation_id, event_type, topic, payload, status,
    created_at, published_at, attempt_count, next_attempt_at, lease_owner, lease_until, last_error`

// ------------------ Helper DRY para insertar en outbox ------------------

func insertOutboxTx(ctx context.Context, tx *sql.Tx, e sharedDomain.OutboxEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, stream_id, sequence_number, correlation_id, event_type, topic, payload, status,
             created_at, attempt_count, next_attempt_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`,
		e.ID, e.StreamID, e.SequenceNumber, e.CorrelationID, e.EventType, e.Topic, []byte(e.Payload),
		string(sharedDomain.OutboxPending), e.CreatedAt, e.NextAttemptAt,
	)
	if err != nil {
		return sharedDomain.Unavailable("insert outbox entry", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutbox(row rowScanner) (sharedDomain.OutboxEntry, error) {
	var e sharedDomain.OutboxEntry
	var status string
	var payloadBytes []byte // El payload se lee como JSONB
	var publishedAt, leaseUntil sql.NullTime
	var leaseOwner, lastError sql.NullString

	if err := row.Scan(&e.ID, &e.StreamID, &e.SequenceNumber, &e.CorrelationID, &e.EventType, &e.Topic, &payloadBytes, &status,
		&e.CreatedAt, &publishedAt, &e.AttemptCount, &e.NextAttemptAt, &leaseOwner, &leaseUntil, &lastError); err != nil {
		return e, err
	}

	e.Payload = payloadBytes
	e.Status = sharedDomain.OutboxStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.NextAttemptAt = e.NextAttemptAt.UTC()
	e.LeaseOwner = leaseOwner.String
	e.LastError = lastError.String
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		e.PublishedAt = &t
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time.UTC()
		e.LeaseUntil = &t
	}
	return e, nil
}

// ClaimPending arrienda entradas con FOR UPDATE SKIP LOCKED; varios dispatchers no se pisan.
func (s *EventStore) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`UPDATE outbox SET lease_owner = $1, lease_until = $2
         WHERE id IN (
             SELECT o.id FROM outbox o
             WHERE o.status = 'pending'
               AND o.next_attempt_at <= $3
               AND (o.lease_until IS NULL OR o.lease_until < $3)
               AND NOT EXISTS (
                   SELECT 1 FROM outbox p
                   WHERE p.stream_id = o.stream_id AND p.status = 'pending' AND p.sequence_number < o.sequence_number
               )
             ORDER BY o.created_at, o.sequence_number
             LIMIT $4
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+outboxColumns,
		owner, now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, sharedDomain.Unavailable("claim outbox", err)
	}
	defer rows.Close()

	var claimed []sharedDomain.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, sharedDomain.Unavailable("scan outbox", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sharedDomain.Unavailable("claim outbox", err)
	}

	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
		}
		return claimed[i].SequenceNumber < claimed[j].SequenceNumber
	})
	return claimed, nil
}

func (s *EventStore) leaseResult(ctx context.Context, res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox entry %s: %w", id, err)
	}
	if rows == 1 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM outbox WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sharedDomain.ErrOutboxNotFound
	}
	return sharedDomain.ErrLeaseLost
}

// MarkPublished marca la entrada como publicada si el lease sigue siendo nuestro.
func (s *EventStore) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'published', published_at = $1, lease_owner = NULL, lease_until = NULL, last_error = NULL
         WHERE id = $2 AND lease_owner = $3 AND status = 'pending'`,
		at, id, owner,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("mark outbox entry %s published", id), err)
	}
	return s.leaseResult(ctx, res, id)
}

func (s *EventStore) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempt_count = $1, next_attempt_at = $2, last_error = $3, lease_owner = NULL, lease_until = NULL
         WHERE id = $4 AND lease_owner = $5 AND status = 'pending'`,
		attempts, nextAttemptAt, lastErr, id, owner,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("mark outbox entry %s for retry", id), err)
	}
	return s.leaseResult(ctx, res, id)
}

func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempt_count = $1, last_error = $2, lease_owner = NULL, lease_until = NULL
         WHERE id = $3 AND lease_owner = $4 AND status = 'pending'`,
		attempts, lastErr, id, owner,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("mark outbox entry %s failed", id), err)
	}
	return s.leaseResult(ctx, res, id)
}

func (s *EventStore) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox WHERE status = 'failed' ORDER BY created_at, sequence_number LIMIT $1`, limit,
	)
	if err != nil {
		return nil, sharedDomain.Unavailable("list failed outbox", err)
	}
	defer rows.Close()

	var failed []sharedDomain.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		failed = append(failed, e)
	}
	return failed, rows.Err()
}

func (s *EventStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'pending', attempt_count = 0, next_attempt_at = $1, last_error = NULL
         WHERE id = $2 AND status = 'failed'`,
		now, id,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("requeue outbox entry %s", id), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return sharedDomain.ErrOutboxNotFound
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxRepository = (*EventStore)(nil)
