package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	shEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedEvents "github.com/davicafu/eventorders/internal/shared/events"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/eventorders/internal/shared/infra/utils"
)

// CommandExecutor es la interfaz que define los métodos que el consumidor necesita.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, orderID string, cmd orderDomain.Command, correlationID string) (application.Result, error)
}

// OrderConsumer traduce eventos de pagos y envíos en comandos sobre el pedido.
type OrderConsumer struct {
	service CommandExecutor
	timeout time.Duration
	log     *zap.Logger
}

// NewOrderConsumer es el constructor.
func NewOrderConsumer(service CommandExecutor, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{
		service: service,
		timeout: 2 * time.Second,
		log:     logger,
	}
}

// Topics devuelve los topics a los que hay que suscribir este consumidor.
func (c *OrderConsumer) Topics() []string {
	return []string{sharedEvents.PaymentsSucceededTopic, sharedEvents.ShipmentsDeliveredTopic}
}

// HandleMessage es el punto de entrada para un nuevo mensaje/evento.
// Devuelve error sólo cuando merece una redelivery.
func (c *OrderConsumer) HandleMessage(ctx context.Context, msg sharedBus.Message) error {
	var base shEvents.IntegrationEvent
	if err := json.Unmarshal(msg.Payload, &base); err != nil {
		c.log.Warn("Failed to unmarshal integration event for order", zap.String("key", msg.Key), zap.Error(err))
		return nil
	}

	switch base.Type {
	case sharedEvents.PaymentsSucceededTopic:
		return sharedUtils.UnmarshalAndHandle[sharedEvents.PaymentSucceeded](c.log, base.Data, func(evt sharedEvents.PaymentSucceeded) error {
			return c.execute(ctx, evt.OrderID, orderDomain.PayOrder{PaymentID: evt.PaymentID}, base)
		})

	case sharedEvents.ShipmentsDeliveredTopic:
		return sharedUtils.UnmarshalAndHandle[sharedEvents.ShipmentDelivered](c.log, base.Data, func(evt sharedEvents.ShipmentDelivered) error {
			return c.execute(ctx, evt.OrderID, orderDomain.CompleteOrder{}, base)
		})

	default:
		c.log.Warn("Unknown order event type", zap.String("type", base.Type), zap.String("key", msg.Key))
		return nil
	}
}

// execute ejecuta el comando con contexto limitado y decide si el mensaje se confirma.
func (c *OrderConsumer) execute(ctx context.Context, orderID string, cmd orderDomain.Command, base shEvents.IntegrationEvent) error {
	ctxCmd, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("order_id", orderID),
		zap.String("command", cmd.Name()),
		zap.String("event_id", base.ID.String()),
		zap.String("source", base.Source),
	}

	_, err := c.service.ExecuteCommand(ctxCmd, orderID, cmd, base.CorrelationID)
	switch {
	case err == nil:
		c.log.Info("Order updated via event", fields...)
		return nil
	case errors.Is(err, sharedDomain.ErrDomainRule):
		// Un evento que el pedido no admite no mejora con reintentos.
		c.log.Warn("Event rejected by order rules", append(fields, zap.Error(err))...)
		return nil
	case errors.Is(err, sharedDomain.ErrSerialization):
		c.log.Error("❌ Corrupted order stream", append(fields, zap.Error(err))...)
		return nil
	default:
		c.log.Warn("Failed to process order event", append(fields, zap.Error(err))...)
		return err
	}
}

var _ sharedBus.MessageHandler = (*OrderConsumer)(nil)
