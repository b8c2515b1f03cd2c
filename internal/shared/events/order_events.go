package events

// Estos son contratos de integración, NO entidades del dominio
// Se definen planos para intercambio entre contextos. Importes en céntimos.

const (
	OrdersCreatedTopic   = "orders.created"
	OrdersConfirmedTopic = "orders.confirmed"
	OrdersPaidTopic      = "orders.paid"
	OrdersShippedTopic   = "orders.shipped"
	OrdersCompletedTopic = "orders.completed"
	OrdersCancelledTopic = "orders.cancelled"

	// Topics de servicios vecinos que consume el servicio de pedidos.
	PaymentsSucceededTopic  = "payments.succeeded"
	ShipmentsDeliveredTopic = "shipments.delivered"
)

type OrderLine struct {
	ProductID string `json:"productId"`
	Units     int    `json:"units"`
	UnitPrice int64  `json:"unitPrice"`
}

type OrderCreated struct {
	OrderID string      `json:"orderId"`
	BuyerID string      `json:"buyerId"`
	Lines   []OrderLine `json:"lines"`
	Total   int64       `json:"total"`
}

type OrderConfirmed struct {
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

type OrderPaid struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

type OrderShipped struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

type OrderCompleted struct {
	OrderID string `json:"orderId"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// PaymentSucceeded lo publica el servicio de pagos.
type PaymentSucceeded struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

// ShipmentDelivered lo publica el servicio de envíos.
type ShipmentDelivered struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}
