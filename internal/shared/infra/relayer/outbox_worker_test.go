package relayer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	sharedDomainEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedEvents "github.com/davicafu/eventorders/internal/shared/infra/events"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/memory"
	"github.com/davicafu/eventorders/tests/mocks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Owner:          "dispatcher-test",
		Interval:       10 * time.Millisecond,
		BatchSize:      10,
		MaxAttempts:    3,
		Lease:          30 * time.Second,
		PublishTimeout: time.Second,
		BackoffBase:    time.Second,
		BackoffMax:     10 * time.Second,
	}
}

func pendingEntry(attempts int) sharedDomain.OutboxEntry {
	return sharedDomain.OutboxEntry{
		ID:             uuid.New(),
		StreamID:       "order-1",
		SequenceNumber: 2,
		CorrelationID:  "corr-1",
		EventType:      "orders.confirmed",
		Topic:          "orders.confirmed",
		Payload:        []byte(`{"id":"x"}`),
		Status:         sharedDomain.OutboxPending,
		AttemptCount:   attempts,
		CreatedAt:      t0,
		NextAttemptAt:  t0,
	}
}

func TestDispatcher_ProcessBatch_Success(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	audit := new(mocks.MockDeliveryAudit)
	clock := mocks.NewFakeClock(t0)
	entry := pendingEntry(0)

	repo.On("ClaimPending", mock.Anything, "dispatcher-test", 10, t0, 30*time.Second).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(msg sharedBus.Message) bool {
		return msg.Topic == "orders.confirmed" && msg.Key == "order-1" && msg.ID == entry.ID.String() && msg.CorrelationID == "corr-1"
	})).Return(nil).Once()
	repo.On("MarkPublished", mock.Anything, entry.ID, "dispatcher-test", t0).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(rec sharedDomain.DeliveryRecord) bool {
		return rec.EntryID == entry.ID && rec.Status == sharedDomain.OutboxPublished
	})).Return(nil).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop(), WithClock(clock.Now), WithAudit(audit))

	// ACT
	n, err := d.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestDispatcher_ProcessBatch_PublisherFailsSchedulesRetry(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	clock := mocks.NewFakeClock(t0)
	entry := pendingEntry(1)

	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()
	// Segundo fallo: base * 2
	repo.On("MarkRetry", mock.Anything, entry.ID, "dispatcher-test", 2, t0.Add(2*time.Second), "kafka is down").Return(nil).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop(), WithClock(clock.Now))

	// ACT
	_, err := d.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_ProcessBatch_MaxAttemptsMarksFailed(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	audit := new(mocks.MockDeliveryAudit)
	entry := pendingEntry(2)

	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker rejected")).Once()
	repo.On("MarkFailed", mock.Anything, entry.ID, "dispatcher-test", 3, "broker rejected").Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(rec sharedDomain.DeliveryRecord) bool {
		return rec.Status == sharedDomain.OutboxFailed && rec.Attempts == 3 && rec.LastError == "broker rejected"
	})).Return(nil).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop(), WithAudit(audit))

	// ACT
	_, err := d.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
	audit.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_ProcessBatch_LeaseLostSkipsAudit(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	audit := new(mocks.MockDeliveryAudit)
	entry := pendingEntry(0)

	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("MarkPublished", mock.Anything, entry.ID, mock.Anything, mock.Anything).Return(sharedDomain.ErrLeaseLost).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop(), WithAudit(audit))

	_, err := d.ProcessBatch(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestDispatcher_ProcessBatch_ClaimError(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)

	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, sharedDomain.Unavailable("claim outbox", errors.New("disk I/O error"))).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop())

	n, err := d.ProcessBatch(context.Background())

	assert.Zero(t, n)
	assert.ErrorIs(t, err, sharedDomain.ErrStoreUnavailable)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestDispatcher_ProcessBatch_PublishSurvivesCancellation(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	entry := pendingEntry(0)

	ctx, cancel := context.WithCancel(context.Background())
	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.MatchedBy(func(pctx context.Context) bool {
		// El apagado llega en mitad de la publicación.
		cancel()
		return pctx.Err() == nil
	}), mock.Anything).Return(nil).Once()
	repo.On("MarkPublished", mock.Anything, entry.ID, mock.Anything, mock.Anything).Return(nil).Once()

	d := NewDispatcher(repo, publisher, testConfig(), zap.NewNop())

	_, err := d.ProcessBatch(ctx)

	require.NoError(t, err)
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestDispatcher_RetryDelay(t *testing.T) {
	d := NewDispatcher(nil, nil, testConfig(), zap.NewNop())

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempts), func(t *testing.T) {
			assert.Equal(t, tt.want, d.RetryDelay(tt.attempts))
		})
	}
}

func TestDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(nil, nil, Config{PublishTimeout: 5 * time.Second}, zap.NewNop())

	assert.NotEmpty(t, d.Owner())
	assert.Greater(t, d.cfg.Lease, d.cfg.PublishTimeout)
	assert.Equal(t, 10, d.cfg.MaxAttempts)
}

// flakyBus falla las primeras n publicaciones y luego delega en el bus en memoria.
type flakyBus struct {
	failures int
	inner    *sharedEvents.InMemoryEventBus
}

func (b *flakyBus) Publish(ctx context.Context, msg sharedBus.Message) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("transient broker error")
	}
	return b.inner.Publish(ctx, msg)
}

func TestDispatcher_Run_PublishesInStreamOrder(t *testing.T) {
	// ARRANGE
	registry := sharedDomainEvents.Registry{
		"order.created":   {IntegrationType: "orders.created", Topic: "orders"},
		"order.confirmed": {IntegrationType: "orders.confirmed", Topic: "orders"},
		"order.cancelled": {IntegrationType: "orders.cancelled", Topic: "orders"},
	}
	store := memory.NewEventStore(sharedDomain.NewOutboxEnqueuer(registry, "orders-service"))

	evts := make([]sharedDomainEvents.Event, 0, 3)
	for _, typ := range []string{"order.created", "order.confirmed", "order.cancelled"} {
		evt, err := sharedDomainEvents.New("order-9", typ, map[string]string{"k": typ}, "corr-9", time.Now())
		require.NoError(t, err)
		evts = append(evts, evt)
	}
	_, err := store.Append(context.Background(), "order-9", 0, evts)
	require.NoError(t, err)

	bus := sharedEvents.NewInMemoryEventBus()
	cfg := testConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = time.Millisecond
	d := NewDispatcher(store, &flakyBus{failures: 1, inner: bus}, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// ASSERT
	require.Eventually(t, func() bool { return len(bus.Published()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	published := bus.Published()
	assert.Equal(t, "orders.created", published[0].Type)
	assert.Equal(t, "orders.confirmed", published[1].Type)
	assert.Equal(t, "orders.cancelled", published[2].Type)
	for _, e := range store.Outbox() {
		assert.Equal(t, sharedDomain.OutboxPublished, e.Status)
	}
	assert.Equal(t, 1, store.Outbox()[0].AttemptCount)
}

func TestDispatcher_RequeueNotifies(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	id := uuid.New()
	repo.On("Requeue", mock.Anything, id, t0).Return(nil).Once()

	d := NewDispatcher(repo, nil, testConfig(), zap.NewNop(), WithClock(func() time.Time { return t0 }))

	require.NoError(t, d.Requeue(context.Background(), id))
	select {
	case <-d.wake:
	default:
		t.Fatal("Requeue no despertó al dispatcher")
	}
	repo.AssertExpectations(t)
}
