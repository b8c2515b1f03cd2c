package domain

// Las constantes de los tipos de evento se definen aquí, como valores string.
const (
	OrderCreated   = "order.created"
	OrderConfirmed = "order.confirmed"
	OrderPaid      = "order.paid"
	OrderShipped   = "order.shipped"
	OrderCompleted = "order.completed"
	OrderCancelled = "order.cancelled"
)

type OrderItem struct {
	ProductID string `json:"productId"`
	Units     int    `json:"units"`
	UnitPrice int64  `json:"unitPrice"`
}

// --- Payloads de los eventos de dominio ---

type CreatedPayload struct {
	OrderID string      `json:"orderId"`
	BuyerID string      `json:"buyerId"`
	Items   []OrderItem `json:"items"`
	Total   int64       `json:"total"`
}

type ConfirmedPayload struct {
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

type PaidPayload struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

type ShippedPayload struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

type CompletedPayload struct {
	OrderID string `json:"orderId"`
}

type CancelledPayload struct {
	OrderID        string      `json:"orderId"`
	Reason         string      `json:"reason"`
	PreviousStatus OrderStatus `json:"previousStatus"`
}
