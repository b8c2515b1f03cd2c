package domain

import (
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

type OrderStatus string

const (
	StatusNone      OrderStatus = ""
	StatusCreated   OrderStatus = "created"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Reglas de negocio, usadas como DomainRuleViolation.Rule.
const (
	RuleNotFound           = "order.not_found"
	RuleAlreadyExists      = "order.already_exists"
	RuleInvalidBuyer       = "order.invalid_buyer"
	RuleInvalidItems       = "order.invalid_items"
	RuleInvalidTransition  = "order.invalid_transition"
	RuleAlreadyCancelled   = "order.already_cancelled"
	RuleCancelAfterShipped = "order.cancel_after_shipped"
	RuleMissingReference   = "order.missing_reference"
)

// State es la proyección en memoria del stream de un pedido.
type State struct {
	ID             string      `json:"id"`
	BuyerID        string      `json:"buyerId"`
	Items          []OrderItem `json:"items"`
	Total          int64       `json:"total"`
	Status         OrderStatus `json:"status"`
	PaymentID      string      `json:"paymentId,omitempty"`
	TrackingNumber string      `json:"trackingNumber,omitempty"`
	CancelReason   string      `json:"cancelReason,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Evolve es la función de transición pura: mismo estado y mismo evento, mismo resultado.
// No valida reglas de negocio; eso ocurrió cuando el evento se produjo.
func Evolve(s State, evt events.Event) (State, error) {
	switch evt.Type {
	case OrderCreated:
		var p CreatedPayload
		if err := evt.Decode(&p); err != nil {
			return s, sharedDomain.Serialization("evolve", err)
		}
		s.ID = evt.StreamID
		s.BuyerID = p.BuyerID
		s.Items = append([]OrderItem(nil), p.Items...)
		s.Total = p.Total
		s.Status = StatusCreated
		s.CreatedAt = evt.OccurredAt
	case OrderConfirmed:
		s.Status = StatusConfirmed
	case OrderPaid:
		var p PaidPayload
		if err := evt.Decode(&p); err != nil {
			return s, sharedDomain.Serialization("evolve", err)
		}
		s.PaymentID = p.PaymentID
		s.Status = StatusPaid
	case OrderShipped:
		var p ShippedPayload
		if err := evt.Decode(&p); err != nil {
			return s, sharedDomain.Serialization("evolve", err)
		}
		s.TrackingNumber = p.TrackingNumber
		s.Status = StatusShipped
	case OrderCompleted:
		s.Status = StatusCompleted
	case OrderCancelled:
		var p CancelledPayload
		if err := evt.Decode(&p); err != nil {
			return s, sharedDomain.Serialization("evolve", err)
		}
		s.CancelReason = p.Reason
		s.Status = StatusCancelled
	default:
		return s, sharedDomain.Serialization("evolve", fmt.Errorf("unknown order event type %q", evt.Type))
	}
	s.UpdatedAt = evt.OccurredAt
	return s, nil
}

// Metadata acompaña a cada evento producido por un comando.
type Metadata struct {
	CorrelationID string
	At            time.Time
}

// Order es el agregado. Sólo cambia de estado aplicando eventos.
type Order struct {
	sharedDomain.AggregateRoot
	state State
}

func NewOrder(id string) *Order {
	return &Order{AggregateRoot: sharedDomain.NewAggregateRoot(id)}
}

// Snapshot es el estado confirmado junto con la versión que lo produjo.
type Snapshot struct {
	State   State `json:"state"`
	Version int64 `json:"version"`
}

// FromSnapshot reconstruye un pedido ya aplicado hasta snap.Version.
func FromSnapshot(id string, snap Snapshot) *Order {
	return &Order{AggregateRoot: sharedDomain.RestoreAggregateRoot(id, snap.Version), state: snap.State}
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{State: o.state, Version: o.Version()}
}

func (o *Order) State() State { return o.state }

func (o *Order) Status() OrderStatus { return o.state.Status }

// Apply aplica un evento confirmado durante el replay.
func (o *Order) Apply(evt events.Event) error {
	next, err := Evolve(o.state, evt)
	if err != nil {
		return err
	}
	if err := o.Advance(evt); err != nil {
		return err
	}
	o.state = next
	return nil
}

// raise produce un evento, lo aplica al estado local y lo deja en el buffer.
func (o *Order) raise(eventType string, payload interface{}, meta Metadata) ([]events.Event, error) {
	at := meta.At
	if at.IsZero() {
		at = time.Now()
	}
	evt, err := events.New(o.AggregateID(), eventType, payload, meta.CorrelationID, at)
	if err != nil {
		return nil, sharedDomain.Serialization("raise", err)
	}
	evt.SequenceNumber = o.NextSequence()

	next, err := Evolve(o.state, evt)
	if err != nil {
		return nil, err
	}
	o.state = next
	o.Record(evt)
	return []events.Event{evt}, nil
}

func (o *Order) exists() bool {
	return o.state.Status != StatusNone
}

func (o *Order) requireStatus(want OrderStatus, action string) error {
	switch {
	case !o.exists():
		return sharedDomain.NewDomainRuleViolation(RuleNotFound, "order %s does not exist", o.AggregateID())
	case o.state.Status == StatusCancelled:
		return sharedDomain.NewDomainRuleViolation(RuleAlreadyCancelled, "cannot %s cancelled order %s", action, o.AggregateID())
	case o.state.Status != want:
		return sharedDomain.NewDomainRuleViolation(RuleInvalidTransition,
			"cannot %s order %s in status %s", action, o.AggregateID(), o.state.Status)
	}
	return nil
}

// --- Métodos de dominio ---

func (o *Order) Create(buyerID string, items []OrderItem, meta Metadata) ([]events.Event, error) {
	if o.exists() || o.Version() > 0 {
		return nil, sharedDomain.NewDomainRuleViolation(RuleAlreadyExists, "order %s already exists", o.AggregateID())
	}
	if buyerID == "" {
		return nil, sharedDomain.NewDomainRuleViolation(RuleInvalidBuyer, "buyer id is required")
	}
	if len(items) == 0 {
		return nil, sharedDomain.NewDomainRuleViolation(RuleInvalidItems, "an order needs at least one item")
	}

	var total int64
	for i, it := range items {
		if it.ProductID == "" || it.Units <= 0 || it.UnitPrice < 0 {
			return nil, sharedDomain.NewDomainRuleViolation(RuleInvalidItems, "item %d is invalid", i)
		}
		total += int64(it.Units) * it.UnitPrice
	}

	return o.raise(OrderCreated, CreatedPayload{
		OrderID: o.AggregateID(),
		BuyerID: buyerID,
		Items:   append([]OrderItem(nil), items...),
		Total:   total,
	}, meta)
}

func (o *Order) Confirm(meta Metadata) ([]events.Event, error) {
	if err := o.requireStatus(StatusCreated, "confirm"); err != nil {
		return nil, err
	}
	return o.raise(OrderConfirmed, ConfirmedPayload{OrderID: o.AggregateID(), Total: o.state.Total}, meta)
}

func (o *Order) Pay(paymentID string, meta Metadata) ([]events.Event, error) {
	if err := o.requireStatus(StatusConfirmed, "pay"); err != nil {
		return nil, err
	}
	if paymentID == "" {
		return nil, sharedDomain.NewDomainRuleViolation(RuleMissingReference, "payment id is required")
	}
	return o.raise(OrderPaid, PaidPayload{OrderID: o.AggregateID(), PaymentID: paymentID, Amount: o.state.Total}, meta)
}

func (o *Order) Ship(trackingNumber string, meta Metadata) ([]events.Event, error) {
	if err := o.requireStatus(StatusPaid, "ship"); err != nil {
		return nil, err
	}
	if trackingNumber == "" {
		return nil, sharedDomain.NewDomainRuleViolation(RuleMissingReference, "tracking number is required")
	}
	return o.raise(OrderShipped, ShippedPayload{OrderID: o.AggregateID(), TrackingNumber: trackingNumber}, meta)
}

func (o *Order) Complete(meta Metadata) ([]events.Event, error) {
	if err := o.requireStatus(StatusShipped, "complete"); err != nil {
		return nil, err
	}
	return o.raise(OrderCompleted, CompletedPayload{OrderID: o.AggregateID()}, meta)
}

// Cancel sólo se permite antes del envío.
func (o *Order) Cancel(reason string, meta Metadata) ([]events.Event, error) {
	switch o.state.Status {
	case StatusNone:
		return nil, sharedDomain.NewDomainRuleViolation(RuleNotFound, "order %s does not exist", o.AggregateID())
	case StatusCancelled:
		return nil, sharedDomain.NewDomainRuleViolation(RuleAlreadyCancelled, "order %s is already cancelled", o.AggregateID())
	case StatusShipped, StatusCompleted:
		return nil, sharedDomain.NewDomainRuleViolation(RuleCancelAfterShipped,
			"order %s cannot be cancelled once %s", o.AggregateID(), o.state.Status)
	}
	return o.raise(OrderCancelled, CancelledPayload{
		OrderID:        o.AggregateID(),
		Reason:         reason,
		PreviousStatus: o.state.Status,
	}, meta)
}

// Verificación estática
var _ sharedDomain.Aggregate = (*Order)(nil)
