package domain

import (
	"encoding/json"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

const (
	CmdCreateOrder   = "CreateOrder"
	CmdConfirmOrder  = "ConfirmOrder"
	CmdPayOrder      = "PayOrder"
	CmdShipOrder     = "ShipOrder"
	CmdCompleteOrder = "CompleteOrder"
	CmdCancelOrder   = "CancelOrder"

	RuleUnknownCommand   = "command.unknown"
	RuleMalformedCommand = "command.malformed"
)

// Command es una intención sobre un pedido. Execute invoca el método de dominio que le toca.
type Command interface {
	Name() string
	Execute(o *Order, meta Metadata) ([]events.Event, error)
}

type CreateOrder struct {
	BuyerID string      `json:"buyerId"`
	Items   []OrderItem `json:"items"`
}

func (CreateOrder) Name() string { return CmdCreateOrder }
func (c CreateOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Create(c.BuyerID, c.Items, meta)
}

type ConfirmOrder struct{}

func (ConfirmOrder) Name() string { return CmdConfirmOrder }
func (ConfirmOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Confirm(meta)
}

type PayOrder struct {
	PaymentID string `json:"paymentId"`
}

func (PayOrder) Name() string { return CmdPayOrder }
func (c PayOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Pay(c.PaymentID, meta)
}

type ShipOrder struct {
	TrackingNumber string `json:"trackingNumber"`
}

func (ShipOrder) Name() string { return CmdShipOrder }
func (c ShipOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Ship(c.TrackingNumber, meta)
}

type CompleteOrder struct{}

func (CompleteOrder) Name() string { return CmdCompleteOrder }
func (CompleteOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Complete(meta)
}

type CancelOrder struct {
	Reason string `json:"reason"`
}

func (CancelOrder) Name() string { return CmdCancelOrder }
func (c CancelOrder) Execute(o *Order, meta Metadata) ([]events.Event, error) {
	return o.Cancel(c.Reason, meta)
}

// DecodeCommand construye el comando a partir de su nombre y su payload JSON.
// Un payload vacío es válido para los comandos sin campos.
func DecodeCommand(name string, payload json.RawMessage) (Command, error) {
	var cmd Command
	switch name {
	case CmdCreateOrder:
		var c CreateOrder
		if err := decodeInto(payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdConfirmOrder:
		cmd = ConfirmOrder{}
	case CmdPayOrder:
		var c PayOrder
		if err := decodeInto(payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdShipOrder:
		var c ShipOrder
		if err := decodeInto(payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdCompleteOrder:
		cmd = CompleteOrder{}
	case CmdCancelOrder:
		var c CancelOrder
		if err := decodeInto(payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, sharedDomain.NewDomainRuleViolation(RuleUnknownCommand, "unknown command %q", name)
	}
	return cmd, nil
}

func decodeInto(payload json.RawMessage, dest interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return sharedDomain.NewDomainRuleViolation(RuleMalformedCommand, "%v", err)
	}
	return nil
}
