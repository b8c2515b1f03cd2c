package ordermocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
)

// MockOrderService simula los casos de uso del pedido.
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) ExecuteCommand(ctx context.Context, orderID string, cmd orderDomain.Command, correlationID string) (application.Result, error) {
	args := m.Called(ctx, orderID, cmd, correlationID)
	res, _ := args.Get(0).(application.Result)
	return res, args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (orderDomain.Snapshot, error) {
	args := m.Called(ctx, orderID)
	snap, _ := args.Get(0).(orderDomain.Snapshot)
	return snap, args.Error(1)
}

// MockOutboxOperator simula la superficie de operador del dispatcher.
type MockOutboxOperator struct {
	mock.Mock
}

func (m *MockOutboxOperator) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]sharedDomain.OutboxEntry)
	return entries, args.Error(1)
}

func (m *MockOutboxOperator) Requeue(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// MockDeliveryReporter simula el resumen de auditoría de entregas.
type MockDeliveryReporter struct {
	mock.Mock
}

func (m *MockDeliveryReporter) Summary(ctx context.Context, start, end time.Time) ([]sharedDomain.DeliveryStats, error) {
	args := m.Called(ctx, start, end)
	stats, _ := args.Get(0).([]sharedDomain.DeliveryStats)
	return stats, args.Error(1)
}
