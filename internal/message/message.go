package message

import (
	"time"

	"github.com/google/uuid"
)

const EventPaymentCompleted = "payment.completed"

// PaymentCompleted is published once an order has been marked paid.
type PaymentCompleted struct {
	ID            uuid.UUID `json:"id"`
	Event         string    `json:"event"`
	OrderID       int64     `json:"orderId"`
	OrderKey      string    `json:"orderKey"`
	CustomerID    int64     `json:"customerId"`
	Total         float64   `json:"total"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transactionId"`
	PaidAt        time.Time `json:"paidAt"`
}

// WebhookDelivery carries a raw Selcom callback body through the async webhook queue.
type WebhookDelivery struct {
	ID         uuid.UUID `json:"id"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
	TraceID    string    `json:"traceId,omitempty"`
}
