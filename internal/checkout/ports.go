package checkout

import (
	"context"

	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
)

// OrderStore is the order collaborator. MarkPaid must be a conditional update:
// it reports false without changing anything when the order is no longer payable.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	MarkPaid(ctx context.Context, id int64, transactionRef string) (bool, error)
	AddNote(ctx context.Context, id int64, note string) error
}

type Inventory interface {
	EmptyCart(ctx context.Context, customerID int64) error
	ReduceStockLevels(ctx context.Context, orderID int64) error
}

// Provider sends a signed payload to one Selcom endpoint.
type Provider interface {
	Send(ctx context.Context, endpoint string, p *payload.Payload) model.GatewayResponse
}

type WebhookHandler interface {
	Handle(ctx context.Context, raw []byte) model.WebhookAck
}
