package memory

import (
	"context"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/google/uuid"
)

// ClaimPending toma, por stream, la pendiente de menor secuencia y arrienda las vencidas
// en orden de createdAt. El reloj de quien hizo el Append no decide el orden dentro de un stream.
func (s *EventStore) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	heads := make(map[string]sharedDomain.OutboxEntry)
	for _, e := range s.outbox {
		if e.Status != sharedDomain.OutboxPending {
			continue
		}
		if h, ok := heads[e.StreamID]; !ok || e.SequenceNumber < h.SequenceNumber {
			heads[e.StreamID] = *e
		}
	}
	ordered := make([]sharedDomain.OutboxEntry, 0, len(heads))
	for _, h := range heads {
		ordered = append(ordered, h)
	}
	sortEntries(ordered)

	until := now.Add(lease)
	var claimed []sharedDomain.OutboxEntry
	for _, e := range ordered {
		if len(claimed) >= limit {
			break
		}
		if !e.Claimable(now) {
			continue
		}
		stored := s.outbox[e.ID]
		stored.LeaseOwner = owner
		stored.LeaseUntil = &until
		claimed = append(claimed, *stored)
	}
	return claimed, nil
}

// leasedLocked devuelve la entrada si owner mantiene un lease vigente sobre ella.
func (s *EventStore) leasedLocked(id uuid.UUID, owner string) (*sharedDomain.OutboxEntry, error) {
	e, ok := s.outbox[id]
	if !ok {
		return nil, sharedDomain.ErrOutboxNotFound
	}
	if e.Status != sharedDomain.OutboxPending || e.LeaseOwner != owner {
		return nil, sharedDomain.ErrLeaseLost
	}
	return e, nil
}

func (s *EventStore) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	e, err := s.leasedLocked(id, owner)
	if err != nil {
		return err
	}
	at = at.UTC()
	e.Status = sharedDomain.OutboxPublished
	e.PublishedAt = &at
	e.LeaseOwner = ""
	e.LeaseUntil = nil
	e.LastError = ""
	return nil
}

func (s *EventStore) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	e, err := s.leasedLocked(id, owner)
	if err != nil {
		return err
	}
	e.AttemptCount = attempts
	e.NextAttemptAt = nextAttemptAt.UTC()
	e.LeaseOwner = ""
	e.LeaseUntil = nil
	e.LastError = lastErr
	return nil
}

func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	e, err := s.leasedLocked(id, owner)
	if err != nil {
		return err
	}
	e.Status = sharedDomain.OutboxFailed
	e.AttemptCount = attempts
	e.LeaseOwner = ""
	e.LeaseUntil = nil
	e.LastError = lastErr
	return nil
}

func (s *EventStore) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	failed := s.sortedLocked(func(e sharedDomain.OutboxEntry) bool { return e.Status == sharedDomain.OutboxFailed })
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// Requeue devuelve una entrada Failed a Pending con los intentos a cero.
func (s *EventStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	e, ok := s.outbox[id]
	if !ok || e.Status != sharedDomain.OutboxFailed {
		return sharedDomain.ErrOutboxNotFound
	}
	e.Status = sharedDomain.OutboxPending
	e.AttemptCount = 0
	e.NextAttemptAt = now.UTC()
	e.LastError = ""
	return nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxRepository = (*EventStore)(nil)
