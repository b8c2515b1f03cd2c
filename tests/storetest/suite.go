// Package storetest reúne los escenarios que cualquier event store con outbox debe cumplir.
// Cada driver lo ejecuta desde su propio _test.go.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

const (
	PlacedType   = "parcel.placed"
	MovedType    = "parcel.moved"
	InternalType = "parcel.inspected" // fuera del registro: no genera outbox
	Source       = "storetest"
)

// Store es la superficie común de todos los drivers.
type Store interface {
	sharedDomain.EventStore
	sharedDomain.OutboxRepository
	SetClock(now func() time.Time)
}

// Factory crea un store vacío con el enqueuer dado.
type Factory func(t *testing.T, enqueuer *sharedDomain.OutboxEnqueuer) Store

// Enqueuer registra PlacedType y MovedType con topic por tipo.
func Enqueuer() *sharedDomain.OutboxEnqueuer {
	return sharedDomain.NewOutboxEnqueuer(events.Registry{
		PlacedType: {IntegrationType: "parcels.placed", Topic: "parcels.placed"},
		MovedType:  {IntegrationType: "parcels.moved", Topic: "parcels.moved"},
	}, Source)
}

func newEvent(t *testing.T, eventType string, n int) events.Event {
	t.Helper()
	evt, err := events.New("", eventType, map[string]int{"n": n}, "corr-"+eventType, time.Now())
	require.NoError(t, err)
	return evt
}

func streamName(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
}

func readAll(t *testing.T, s Store, streamID string, from int64) []events.Event {
	t.Helper()
	var out []events.Event
	for evt, err := range s.Read(context.Background(), streamID, from) {
		require.NoError(t, err)
		out = append(out, evt)
	}
	return out
}

// claimAt queda por delante de cualquier next_attempt_at recién creado.
func claimAt() time.Time {
	return time.Now().UTC().Add(time.Minute)
}

// Run ejecuta todos los escenarios contra el driver.
func Run(t *testing.T, factory Factory) {
	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, factory(t, Enqueuer())) })
	t.Run("StaleExpectedVersion", func(t *testing.T) { testStaleExpectedVersion(t, factory(t, Enqueuer())) })
	t.Run("EmptyAppendChecksVersion", func(t *testing.T) { testEmptyAppend(t, factory(t, Enqueuer())) })
	t.Run("ConcurrentAppendSingleWinner", func(t *testing.T) { testConcurrentAppend(t, factory(t, Enqueuer())) })
	t.Run("OutboxWrittenWithEvents", func(t *testing.T) { testOutboxWrittenWithEvents(t, factory(t, Enqueuer())) })
	t.Run("ClaimOnePerStream", func(t *testing.T) { testClaimOnePerStream(t, factory(t, Enqueuer())) })
	t.Run("HeadIsLowestSequenceUnderClockSkew", func(t *testing.T) { testHeadUnderClockSkew(t, factory(t, Enqueuer())) })
	t.Run("LeaseExclusiveUntilExpiry", func(t *testing.T) { testLease(t, factory(t, Enqueuer())) })
	t.Run("RetryWaitsForNextAttempt", func(t *testing.T) { testRetry(t, factory(t, Enqueuer())) })
	t.Run("FailedAndRequeue", func(t *testing.T) { testFailedAndRequeue(t, factory(t, Enqueuer())) })
}

func testAppendAndRead(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "read")

	v, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1), newEvent(t, InternalType, 2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = s.Append(ctx, id, 2, []events.Event{newEvent(t, MovedType, 3)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	all := readAll(t, s, id, 0)
	require.Len(t, all, 3)
	for i, evt := range all {
		assert.Equal(t, int64(i+1), evt.SequenceNumber)
		assert.Equal(t, id, evt.StreamID)
	}
	assert.Equal(t, []string{PlacedType, InternalType, MovedType}, []string{all[0].Type, all[1].Type, all[2].Type})
	assert.JSONEq(t, `{"n":1}`, string(all[0].Payload))
	assert.Equal(t, "corr-"+PlacedType, all[0].CorrelationID)
	assert.Equal(t, time.UTC, all[0].OccurredAt.Location())

	tail := readAll(t, s, id, 2)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].SequenceNumber)

	assert.Empty(t, readAll(t, s, id, 3))
	assert.Empty(t, readAll(t, s, streamName(t, "ghost"), 0))

	// Cada range vuelve a leer.
	assert.Equal(t, all, readAll(t, s, id, 0))
}

func testStaleExpectedVersion(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "stale")

	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1), newEvent(t, MovedType, 2)})
	require.NoError(t, err)

	for _, expected := range []int64{0, 1, 5} {
		_, err = s.Append(ctx, id, expected, []events.Event{newEvent(t, MovedType, 9)})
		require.Error(t, err)
		assert.ErrorIs(t, err, sharedDomain.ErrConcurrency)

		var ce *sharedDomain.ConcurrencyError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, id, ce.StreamID)
		assert.Equal(t, expected, ce.Expected)
		assert.Equal(t, int64(2), ce.Actual)
	}

	assert.Len(t, readAll(t, s, id, 0), 2, "un conflicto no deja escrituras parciales")

	claimed, err := s.ClaimPending(ctx, "w", 10, claimAt(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(1), claimed[0].SequenceNumber)
	require.NoError(t, s.MarkPublished(ctx, claimed[0].ID, "w", claimAt()))

	claimed, err = s.ClaimPending(ctx, "w", 10, claimAt(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(2), claimed[0].SequenceNumber)
	require.NoError(t, s.MarkPublished(ctx, claimed[0].ID, "w", claimAt()))

	claimed, err = s.ClaimPending(ctx, "w", 10, claimAt(), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "los Append rechazados no encolan nada")
}

func testEmptyAppend(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "empty")

	v, err := s.Append(ctx, id, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1)})
	require.NoError(t, err)

	v, err = s.Append(ctx, id, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.Append(ctx, id, 0, nil)
	assert.ErrorIs(t, err, sharedDomain.ErrConcurrency)
}

func testConcurrentAppend(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "race")
	const writers = 8

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, i)})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, sharedDomain.ErrConcurrency)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, readAll(t, s, id, 0), 1)
}

func testOutboxWrittenWithEvents(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "outbox")

	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, InternalType, 1), newEvent(t, PlacedType, 2)})
	require.NoError(t, err)

	claimed, err := s.ClaimPending(ctx, "w", 10, claimAt(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	entry := claimed[0]
	assert.Equal(t, id, entry.StreamID)
	assert.Equal(t, int64(2), entry.SequenceNumber)
	assert.Equal(t, "parcels.placed", entry.EventType)
	assert.Equal(t, "parcels.placed", entry.Topic)
	assert.Equal(t, sharedDomain.OutboxPending, entry.Status)
	assert.Equal(t, 0, entry.AttemptCount)
	assert.Equal(t, "w", entry.LeaseOwner)
	require.NotNil(t, entry.LeaseUntil)

	var env events.IntegrationEvent
	require.NoError(t, json.Unmarshal(entry.Payload, &env))
	assert.Equal(t, entry.ID, env.ID)
	assert.Equal(t, id, env.StreamID)
	assert.Equal(t, int64(2), env.SequenceNumber)
	assert.Equal(t, Source, env.Source)
	assert.Equal(t, "corr-"+PlacedType, env.CorrelationID)
	assert.JSONEq(t, `{"n":2}`, string(env.Data))
}

func testClaimOnePerStream(t *testing.T, s Store) {
	ctx := context.Background()
	a := streamName(t, "a")
	b := streamName(t, "b")

	_, err := s.Append(ctx, a, 0, []events.Event{newEvent(t, PlacedType, 1), newEvent(t, MovedType, 2)})
	require.NoError(t, err)
	_, err = s.Append(ctx, b, 0, []events.Event{newEvent(t, PlacedType, 1)})
	require.NoError(t, err)

	now := claimAt()
	claimed, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	got := map[string]int64{}
	for _, e := range claimed {
		got[e.StreamID] = e.SequenceNumber
	}
	assert.Equal(t, map[string]int64{a: 1, b: 1}, got)

	// Mientras a#1 no se publique, a#2 no es reclamable.
	again, err := s.ClaimPending(ctx, "w2", 10, now, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	for _, e := range claimed {
		if e.StreamID == a {
			require.NoError(t, s.MarkPublished(ctx, e.ID, "w", now))
		}
	}
	next, err := s.ClaimPending(ctx, "w2", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, a, next[0].StreamID)
	assert.Equal(t, int64(2), next[0].SequenceNumber)

	for _, limit := range []int{0, -1} {
		limited, err := s.ClaimPending(ctx, "w3", limit, now.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)
		assert.Empty(t, limited, "limit %d", limit)
	}
}

// testHeadUnderClockSkew: el segundo Append llega de un host con el reloj atrasado.
func testHeadUnderClockSkew(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "skew")
	base := time.Now().UTC().Truncate(time.Millisecond)

	s.SetClock(func() time.Time { return base.Add(10 * time.Second) })
	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1)})
	require.NoError(t, err)

	s.SetClock(func() time.Time { return base.Add(8 * time.Second) })
	_, err = s.Append(ctx, id, 1, []events.Event{newEvent(t, MovedType, 2)})
	require.NoError(t, err)

	now := claimAt()
	claimed, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(1), claimed[0].SequenceNumber)
	require.NoError(t, s.MarkPublished(ctx, claimed[0].ID, "w", now))

	next, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, int64(2), next[0].SequenceNumber)
}

func testLease(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "lease")
	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1)})
	require.NoError(t, err)

	now := claimAt()
	first, err := s.ClaimPending(ctx, "w1", 10, now, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	none, err := s.ClaimPending(ctx, "w2", 10, now.Add(10*time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)

	stolen, err := s.ClaimPending(ctx, "w2", 10, now.Add(31*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, stolen, 1)
	assert.Equal(t, first[0].ID, stolen[0].ID)
	assert.Equal(t, "w2", stolen[0].LeaseOwner)

	err = s.MarkPublished(ctx, first[0].ID, "w1", now)
	assert.ErrorIs(t, err, sharedDomain.ErrLeaseLost)
	assert.ErrorIs(t, s.MarkRetry(ctx, first[0].ID, "w1", 1, now, "x"), sharedDomain.ErrLeaseLost)

	require.NoError(t, s.MarkPublished(ctx, stolen[0].ID, "w2", now.Add(32*time.Second)))
	assert.ErrorIs(t, s.MarkFailed(ctx, stolen[0].ID, "w2", 1, "x"), sharedDomain.ErrLeaseLost, "publicada ya no admite marcas")

	assert.ErrorIs(t, s.MarkPublished(ctx, uuid.New(), "w2", now), sharedDomain.ErrOutboxNotFound)
}

func testRetry(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "retry")
	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1)})
	require.NoError(t, err)

	now := claimAt()
	claimed, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.MarkRetry(ctx, claimed[0].ID, "w", 1, now.Add(10*time.Minute), "broker down"))

	early, err := s.ClaimPending(ctx, "w", 10, now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, early)

	later, err := s.ClaimPending(ctx, "w", 10, now.Add(11*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, 1, later[0].AttemptCount)
	assert.Equal(t, "broker down", later[0].LastError)
}

func testFailedAndRequeue(t *testing.T, s Store) {
	ctx := context.Background()
	id := streamName(t, "failed")
	_, err := s.Append(ctx, id, 0, []events.Event{newEvent(t, PlacedType, 1), newEvent(t, MovedType, 2)})
	require.NoError(t, err)

	now := claimAt()
	claimed, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.MarkFailed(ctx, claimed[0].ID, "w", 10, "poison"))

	failed, err := s.ListFailed(ctx, 10)
	require.NoError(t, err)
	for _, limit := range []int{0, -1} {
		none, err := s.ListFailed(ctx, limit)
		require.NoError(t, err)
		assert.Empty(t, none, "limit %d", limit)
	}
	var found *sharedDomain.OutboxEntry
	for i := range failed {
		if failed[i].ID == claimed[0].ID {
			found = &failed[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, sharedDomain.OutboxFailed, found.Status)
	assert.Equal(t, 10, found.AttemptCount)
	assert.Equal(t, "poison", found.LastError)

	// Una entrada Failed no bloquea al resto del stream.
	next, err := s.ClaimPending(ctx, "w", 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, int64(2), next[0].SequenceNumber)
	require.NoError(t, s.MarkPublished(ctx, next[0].ID, "w", now))

	require.NoError(t, s.Requeue(ctx, claimed[0].ID, now))
	assert.ErrorIs(t, s.Requeue(ctx, claimed[0].ID, now), sharedDomain.ErrOutboxNotFound)
	assert.ErrorIs(t, s.Requeue(ctx, uuid.New(), now), sharedDomain.ErrOutboxNotFound)

	requeued, err := s.ClaimPending(ctx, "w", 10, now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, claimed[0].ID, requeued[0].ID)
	assert.Equal(t, 0, requeued[0].AttemptCount)
}
