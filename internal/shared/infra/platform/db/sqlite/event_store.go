package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

// EventStore implementa EventStore y OutboxRepository sobre SQLite.
type EventStore struct {
	db       *sql.DB
	enqueuer *sharedDomain.OutboxEnqueuer
	onCommit sharedDomain.CommitHook
	now      func() time.Time
}

func NewEventStore(db *sql.DB, enqueuer *sharedDomain.OutboxEnqueuer) *EventStore {
	return &EventStore{
		db:       db,
		enqueuer: enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *EventStore) SetCommitHook(hook sharedDomain.CommitHook) { s.onCommit = hook }

func (s *EventStore) SetClock(now func() time.Time) { s.now = now }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func currentVersion(ctx context.Context, q queryer, streamID string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// casVersion mueve el stream de expected a next; false si otro escritor ganó.
func casVersion(ctx context.Context, tx *sql.Tx, streamID string, expected, next int64) (bool, error) {
	var res sql.Result
	var err error
	if expected == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO streams (stream_id, version) VALUES (?, ?) ON CONFLICT (stream_id) DO NOTHING`,
			streamID, next)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE streams SET version = ? WHERE stream_id = ? AND version = ?`,
			next, streamID, expected)
	}
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Append inserta eventos y entradas outbox en una única transacción con CAS sobre la versión.
func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, error) {
	if len(evts) == 0 {
		current, err := currentVersion(ctx, s.db, streamID)
		if err != nil {
			return 0, sharedDomain.Unavailable("read version", err)
		}
		if current != expectedVersion {
			return 0, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: current}
		}
		return current, nil
	}

	stamped := sharedDomain.StampSequences(streamID, expectedVersion, evts)
	entries, err := s.enqueuer.Enqueue(stamped, s.now())
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sharedDomain.Unavailable("begin append", err)
	}
	defer tx.Rollback() // Se ignora si el Commit() es exitoso

	newVersion := expectedVersion + int64(len(stamped))
	ok, err := casVersion(ctx, tx, streamID, expectedVersion, newVersion)
	if err != nil {
		return 0, sharedDomain.Unavailable("compare version", err)
	}
	if !ok {
		actual, _ := currentVersion(ctx, tx, streamID)
		return 0, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: actual}
	}

	for _, evt := range stamped {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (stream_id, sequence_number, event_type, payload, occurred_at, correlation_id)
             VALUES (?, ?, ?, ?, ?, ?)`,
			evt.StreamID, evt.SequenceNumber, evt.Type, []byte(evt.Payload), formatTS(evt.OccurredAt), evt.CorrelationID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: evt.SequenceNumber}
			}
			return 0, sharedDomain.Unavailable("insert event", err)
		}
	}

	for _, entry := range entries {
		if err := insertOutboxTx(ctx, tx, entry); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, sharedDomain.Unavailable("commit append", err)
	}

	if s.onCommit != nil {
		s.onCommit(streamID, newVersion)
	}
	return newVersion, nil
}

// Read consulta perezosamente; cada range abre un cursor nuevo.
func (s *EventStore) Read(ctx context.Context, streamID string, fromVersion int64) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT stream_id, sequence_number, event_type, payload, occurred_at, correlation_id
             FROM events
             WHERE stream_id = ? AND sequence_number > ?
             ORDER BY sequence_number`, streamID, fromVersion,
		)
		if err != nil {
			yield(events.Event{}, sharedDomain.Unavailable("read stream", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var evt events.Event
			var payload []byte
			var occurredAt string
			if err := rows.Scan(&evt.StreamID, &evt.SequenceNumber, &evt.Type, &payload, &occurredAt, &evt.CorrelationID); err != nil {
				yield(events.Event{}, sharedDomain.Unavailable("scan event", err))
				return
			}
			if evt.OccurredAt, err = parseTS(occurredAt); err != nil {
				yield(events.Event{}, sharedDomain.Serialization("parse occurred_at", err))
				return
			}
			evt.Payload = payload
			if !yield(evt, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(events.Event{}, sharedDomain.Unavailable("iterate stream", err))
		}
	}
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*EventStore)(nil)
