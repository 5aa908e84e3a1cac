package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of one checkout attempt.
type State string

const (
	StateStart             State = "START"
	StateOrderCreateSent   State = "ORDER_CREATE_SENT"
	StateOrderCreated      State = "ORDER_CREATED"
	StateOrderCreateFailed State = "ORDER_CREATE_FAILED"
	StateChargeSent        State = "CHARGE_SENT"
	StateChargeSuccess     State = "CHARGE_SUCCESS"
	StateChargeFailed      State = "CHARGE_FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateOrderCreateFailed || s == StateChargeSuccess || s == StateChargeFailed
}

// Attempt is one row of the append-only attempt log.
type Attempt struct {
	ID        uuid.UUID
	OrderID   int64
	State     State
	Message   string
	TransID   string
	TraceID   string
	SpanID    string
	CreatedAt time.Time
}

// AttemptLog persists state transitions. A nil AttemptLog disables recording.
type AttemptLog interface {
	SaveAttempt(ctx context.Context, attempt *Attempt) error
}

func newAttempt(ctx context.Context, id uuid.UUID, orderID int64, state State, message, transID string) *Attempt {
	a := &Attempt{
		ID:        id,
		OrderID:   orderID,
		State:     state,
		Message:   message,
		TransID:   transID,
		CreatedAt: time.Now().UTC(),
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		a.TraceID = sc.TraceID().String()
		a.SpanID = sc.SpanID().String()
	}
	return a
}
