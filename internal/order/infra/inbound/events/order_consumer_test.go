package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	shEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedEvents "github.com/davicafu/eventorders/internal/shared/events"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventorders/tests/mocks/ordermocks"
)

func envelope(t *testing.T, eventType string, data interface{}) sharedBus.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	env := shEvents.IntegrationEvent{
		ID:            uuid.New(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-42",
		Source:        "payments",
		StreamID:      "payment-1",
		Data:          raw,
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	return sharedBus.Message{Topic: eventType, Key: env.StreamID, ID: env.ID.String(), Type: eventType, Payload: payload}
}

func TestOrderConsumer_PaymentSucceededPaysOrder(t *testing.T) {
	// Arrange
	svc := new(ordermocks.MockOrderService)
	svc.On("ExecuteCommand", mock.Anything, "order-1", orderDomain.PayOrder{PaymentID: "pay-9"}, "corr-42").
		Return(application.Result{NewVersion: 3}, nil).Once()
	consumer := NewOrderConsumer(svc, zap.NewNop())

	// Act
	err := consumer.HandleMessage(context.Background(), envelope(t, sharedEvents.PaymentsSucceededTopic,
		sharedEvents.PaymentSucceeded{OrderID: "order-1", PaymentID: "pay-9", Amount: 3000}))

	// Assert
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestOrderConsumer_ShipmentDeliveredCompletesOrder(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	svc.On("ExecuteCommand", mock.Anything, "order-1", orderDomain.CompleteOrder{}, "corr-42").
		Return(application.Result{NewVersion: 5}, nil).Once()
	consumer := NewOrderConsumer(svc, zap.NewNop())

	err := consumer.HandleMessage(context.Background(), envelope(t, sharedEvents.ShipmentsDeliveredTopic,
		sharedEvents.ShipmentDelivered{OrderID: "order-1", TrackingNumber: "TRK-1"}))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestOrderConsumer_RuleViolationIsAcked(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	svc.On("ExecuteCommand", mock.Anything, "order-1", mock.Anything, mock.Anything).
		Return(application.Result{}, sharedDomain.NewDomainRuleViolation(orderDomain.RuleInvalidTransition, "already paid")).Once()
	consumer := NewOrderConsumer(svc, zap.NewNop())

	err := consumer.HandleMessage(context.Background(), envelope(t, sharedEvents.PaymentsSucceededTopic,
		sharedEvents.PaymentSucceeded{OrderID: "order-1", PaymentID: "pay-9"}))

	assert.NoError(t, err)
}

func TestOrderConsumer_TransientErrorIsReturned(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	storeErr := sharedDomain.Unavailable("append", errors.New("connection refused"))
	svc.On("ExecuteCommand", mock.Anything, "order-1", mock.Anything, mock.Anything).
		Return(application.Result{}, storeErr).Once()
	consumer := NewOrderConsumer(svc, zap.NewNop())

	err := consumer.HandleMessage(context.Background(), envelope(t, sharedEvents.ShipmentsDeliveredTopic,
		sharedEvents.ShipmentDelivered{OrderID: "order-1"}))

	assert.ErrorIs(t, err, sharedDomain.ErrStoreUnavailable)
}

func TestOrderConsumer_IgnoresGarbageAndUnknownTypes(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	consumer := NewOrderConsumer(svc, zap.NewNop())

	assert.NoError(t, consumer.HandleMessage(context.Background(), sharedBus.Message{Payload: []byte("not json")}))
	assert.NoError(t, consumer.HandleMessage(context.Background(), envelope(t, "inventory.reserved", map[string]string{"orderId": "o"})))

	svc.AssertNotCalled(t, "ExecuteCommand", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderConsumer_Topics(t *testing.T) {
	consumer := NewOrderConsumer(new(ordermocks.MockOrderService), zap.NewNop())
	assert.ElementsMatch(t, []string{sharedEvents.PaymentsSucceededTopic, sharedEvents.ShipmentsDeliveredTopic}, consumer.Topics())
}
