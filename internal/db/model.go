package db

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventEntity is an outbox row waiting to be published to Kafka.
type PaymentEventEntity struct {
	ID              uuid.UUID
	OrderID         int64
	Event           string
	Payload         string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
