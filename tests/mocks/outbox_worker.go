package mocks

import (
	"context"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockOutboxRepository simula el repositorio de outbox.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	args := m.Called(ctx, owner, limit, now, lease)
	entries, _ := args.Get(0).([]sharedDomain.OutboxEntry)
	return entries, args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	return m.Called(ctx, id, owner, at).Error(0)
}

func (m *MockOutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return m.Called(ctx, id, owner, attempts, nextAttemptAt, lastErr).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	return m.Called(ctx, id, owner, attempts, lastErr).Error(0)
}

func (m *MockOutboxRepository) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]sharedDomain.OutboxEntry)
	return entries, args.Error(1)
}

func (m *MockOutboxRepository) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

// MockPublisher simula un publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg sharedBus.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// MockDeliveryAudit simula el sink de auditoría.
type MockDeliveryAudit struct {
	mock.Mock
}

func (m *MockDeliveryAudit) Record(ctx context.Context, rec sharedDomain.DeliveryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// Verificación estática de que los mocks cumplen las interfaces.
var (
	_ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)
	_ sharedDomain.DeliveryAudit    = (*MockDeliveryAudit)(nil)
	_ sharedBus.EventBus            = (*MockPublisher)(nil)
)
