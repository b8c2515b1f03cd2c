package sqlite

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
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID.String(), e.StreamID, e.SequenceNumber, e.CorrelationID, e.EventType, e.Topic, []byte(e.Payload),
		string(sharedDomain.OutboxPending), formatTS(e.CreatedAt), formatTS(e.NextAttemptAt),
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
	var idStr, status, createdAt, nextAttemptAt string
	var payload []byte
	var publishedAt, leaseOwner, leaseUntil, lastError sql.NullString

	if err := row.Scan(&idStr, &e.StreamID, &e.SequenceNumber, &e.CorrelationID, &e.EventType, &e.Topic, &payload, &status,
		&createdAt, &publishedAt, &e.AttemptCount, &nextAttemptAt, &leaseOwner, &leaseUntil, &lastError); err != nil {
		return e, err
	}

	parsedID, err := uuid.Parse(idStr)
	if err != nil {
		return e, fmt.Errorf("invalid UUID in outbox row: %w", err)
	}
	e.ID = parsedID
	e.Payload = payload
	e.Status = sharedDomain.OutboxStatus(status)
	e.LeaseOwner = leaseOwner.String
	e.LastError = lastError.String

	if e.CreatedAt, err = parseTS(createdAt); err != nil {
		return e, err
	}
	if e.NextAttemptAt, err = parseTS(nextAttemptAt); err != nil {
		return e, err
	}
	if publishedAt.Valid {
		t, err := parseTS(publishedAt.String)
		if err != nil {
			return e, err
		}
		e.PublishedAt = &t
	}
	if leaseUntil.Valid {
		t, err := parseTS(leaseUntil.String)
		if err != nil {
			return e, err
		}
		e.LeaseUntil = &t
	}
	return e, nil
}

// ClaimPending arrienda en una sola sentencia UPDATE ... RETURNING, que SQLite ejecuta de forma atómica.
// Sólo es candidata la entrada pendiente más antigua de cada stream.
func (s *EventStore) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowStr := formatTS(now)
	rows, err := s.db.QueryContext(ctx,
		`UPDATE outbox SET lease_owner = ?, lease_until = ?
         WHERE id IN (
             SELECT o.id FROM outbox o
             WHERE o.status = 'pending'
               AND o.next_attempt_at <= ?
               AND (o.lease_until IS NULL OR o.lease_until < ?)
               AND NOT EXISTS (
                   SELECT 1 FROM outbox p
                   WHERE p.stream_id = o.stream_id AND p.status = 'pending' AND p.sequence_number < o.sequence_number
               )
             ORDER BY o.created_at, o.sequence_number
             LIMIT ?
         )
         RETURNING `+outboxColumns,
		owner, formatTS(now.Add(lease)), nowStr, nowStr, limit,
	)
	if err != nil {
		return nil, sharedDomain.Unavailable("claim outbox", err)
	}
	defer rows.Close()

	var claimed []sharedDomain.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sharedDomain.Unavailable("claim outbox", err)
	}

	// RETURNING no garantiza orden.
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
		}
		return claimed[i].SequenceNumber < claimed[j].SequenceNumber
	})
	return claimed, nil
}

// leaseResult traduce un UPDATE condicionado al lease en ErrLeaseLost o ErrOutboxNotFound.
func (s *EventStore) leaseResult(ctx context.Context, res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox entry %s: %w", id, err)
	}
	if rows == 1 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM outbox WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sharedDomain.ErrOutboxNotFound
	}
	return sharedDomain.ErrLeaseLost
}

func (s *EventStore) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'published', published_at = ?, lease_owner = NULL, lease_until = NULL, last_error = NULL
         WHERE id = ? AND lease_owner = ? AND status = 'pending'`,
		formatTS(at), id.String(), owner,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("mark outbox entry %s published", id), err)
	}
	return s.leaseResult(ctx, res, id)
}

func (s *EventStore) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempt_count = ?, next_attempt_at = ?, last_error = ?, lease_owner = NULL, lease_until = NULL
         WHERE id = ? AND lease_owner = ? AND status = 'pending'`,
		attempts, formatTS(nextAttemptAt), lastErr, id.String(), owner,
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("mark outbox entry %s for retry", id), err)
	}
	return s.leaseResult(ctx, res, id)
}

func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempt_count = ?, last_error = ?, lease_owner = NULL, lease_until = NULL
         WHERE id = ? AND lease_owner = ? AND status = 'pending'`,
		attempts, lastErr, id.String(), owner,
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
		`SELECT `+outboxColumns+` FROM outbox WHERE status = 'failed' ORDER BY created_at, sequence_number LIMIT ?`, limit,
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
		`UPDATE outbox SET status = 'pending', attempt_count = 0, next_attempt_at = ?, last_error = NULL
         WHERE id = ? AND status = 'failed'`,
		formatTS(now), id.String(),
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
