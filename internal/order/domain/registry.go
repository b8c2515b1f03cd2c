package domain

import (
	shEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedEvents "github.com/davicafu/eventorders/internal/shared/events"
)

// NewEventRegistry traduce cada evento de dominio a su contrato de integración.
// Todos los eventos del pedido son relevantes para otros servicios.
func NewEventRegistry() shEvents.Registry {
	return shEvents.Registry{
		OrderCreated: {
			IntegrationType: sharedEvents.OrdersCreatedTopic,
			Topic:           sharedEvents.OrdersCreatedTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				var p CreatedPayload
				if err := evt.Decode(&p); err != nil {
					return nil, err
				}
				lines := make([]sharedEvents.OrderLine, 0, len(p.Items))
				for _, it := range p.Items {
					lines = append(lines, sharedEvents.OrderLine{ProductID: it.ProductID, Units: it.Units, UnitPrice: it.UnitPrice})
				}
				return sharedEvents.OrderCreated{OrderID: p.OrderID, BuyerID: p.BuyerID, Lines: lines, Total: p.Total}, nil
			},
		},
		OrderConfirmed: {
			IntegrationType: sharedEvents.OrdersConfirmedTopic,
			Topic:           sharedEvents.OrdersConfirmedTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				var p ConfirmedPayload
				if err := evt.Decode(&p); err != nil {
					return nil, err
				}
				return sharedEvents.OrderConfirmed{OrderID: p.OrderID, Total: p.Total}, nil
			},
		},
		OrderPaid: {
			IntegrationType: sharedEvents.OrdersPaidTopic,
			Topic:           sharedEvents.OrdersPaidTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				var p PaidPayload
				if err := evt.Decode(&p); err != nil {
					return nil, err
				}
				return sharedEvents.OrderPaid{OrderID: p.OrderID, PaymentID: p.PaymentID, Amount: p.Amount}, nil
			},
		},
		OrderShipped: {
			IntegrationType: sharedEvents.OrdersShippedTopic,
			Topic:           sharedEvents.OrdersShippedTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				var p ShippedPayload
				if err := evt.Decode(&p); err != nil {
					return nil, err
				}
				return sharedEvents.OrderShipped{OrderID: p.OrderID, TrackingNumber: p.TrackingNumber}, nil
			},
		},
		OrderCompleted: {
			IntegrationType: sharedEvents.OrdersCompletedTopic,
			Topic:           sharedEvents.OrdersCompletedTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				return sharedEvents.OrderCompleted{OrderID: evt.StreamID}, nil
			},
		},
		OrderCancelled: {
			IntegrationType: sharedEvents.OrdersCancelledTopic,
			Topic:           sharedEvents.OrdersCancelledTopic,
			Map: func(evt shEvents.Event) (interface{}, error) {
				var p CancelledPayload
				if err := evt.Decode(&p); err != nil {
					return nil, err
				}
				return sharedEvents.OrderCancelled{OrderID: p.OrderID, Reason: p.Reason}, nil
			},
		},
	}
}
