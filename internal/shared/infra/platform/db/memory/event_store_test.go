package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
	"github.com/davicafu/eventorders/tests/storetest"
)

func TestMemoryEventStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, enqueuer *sharedDomain.OutboxEnqueuer) storetest.Store {
		return NewEventStore(enqueuer)
	})
}

func TestMemoryEventStore_CommitHookAndClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var hooked []int64
	s := NewEventStore(storetest.Enqueuer(),
		WithClock(func() time.Time { return fixed }),
		WithCommitHook(func(streamID string, v int64) { hooked = append(hooked, v) }),
	)

	evt, err := events.New("", storetest.PlacedType, map[string]int{"n": 1}, "c", fixed)
	require.NoError(t, err)

	_, err = s.Append(context.Background(), "s-1", 0, []events.Event{evt})
	require.NoError(t, err)
	_, err = s.Append(context.Background(), "s-1", 0, []events.Event{evt})
	require.Error(t, err)

	assert.Equal(t, []int64{1}, hooked, "sólo los commits disparan el hook")
	outbox := s.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, fixed, outbox[0].CreatedAt)
}

func TestMemoryEventStore_CancelledContext(t *testing.T) {
	s := NewEventStore(storetest.Enqueuer())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, "s-1", 0, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.ClaimPending(ctx, "w", 1, time.Now(), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
