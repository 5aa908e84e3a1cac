// Package checkout drives a Selcom payment for one order: create the remote order,
// charge the buyer's wallet and apply the local completion side effects.
package checkout

import (
	"context"
	"log/slog"
	"sync"

	"selcom-gateway/internal/config"
	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
)

const GatewayID = "selcom"

// PaymentGateway is what the shop needs from a payment method.
type PaymentGateway interface {
	Configure(cfg config.Selcom) error
	CheckoutFields(billingPhone string) PaymentFields
	Charge(ctx context.Context, orderID int64, phone string) Result
	HandleReturn(ctx context.Context, orderID int64) (ReturnPage, error)
	HandleWebhook(ctx context.Context, raw []byte) model.WebhookAck
}

var _ PaymentGateway = (*Gateway)(nil)

// Result is the outcome reported to the buyer's browser.
type Result struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

func (r Result) Succeeded() bool {
	return r.Result == ResultSuccess
}

// Field describes one input the checkout form renders for this gateway.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
	Value       string `json:"value,omitempty"`
}

type PaymentFields struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
	Supports    []string `json:"supports"`
	Fields      []Field  `json:"fields"`
}

// ReturnPage is shown on the order-received page.
type ReturnPage struct {
	OrderID      int64             `json:"orderId"`
	Status       model.OrderStatus `json:"status"`
	Paid         bool              `json:"paid"`
	Instructions string            `json:"instructions,omitempty"`
}

type settings struct {
	enabled      bool
	title        string
	description  string
	instructions string
	webhookURL   string
}

type Gateway struct {
	mu       sync.RWMutex
	settings settings
	builder  *payload.Builder

	provider  Provider
	orders    OrderStore
	inventory Inventory
	webhooks  WebhookHandler
	attempts  AttemptLog
	urls      URLs
	logger    *slog.Logger
}

// NewGateway wires the orchestrator. attempts may be nil.
func NewGateway(
	cfg config.Selcom,
	provider Provider,
	orders OrderStore,
	inventory Inventory,
	webhooks WebhookHandler,
	attempts AttemptLog,
	urls URLs,
	logger *slog.Logger,
) (*Gateway, error) {
	g := &Gateway{
		provider:  provider,
		orders:    orders,
		inventory: inventory,
		webhooks:  webhooks,
		attempts:  attempts,
		urls:      urls,
		logger:    logger,
	}
	if err := g.Configure(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// Configure applies new gateway settings. In-flight attempts keep the settings they started with.
func (g *Gateway) Configure(cfg config.Selcom) error {
	builder, err := payload.NewBuilder(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.builder = builder
	g.settings = settings{
		enabled:      cfg.Enabled,
		title:        cfg.Title,
		description:  cfg.Description,
		instructions: cfg.Instructions,
		webhookURL:   cfg.Webhook.URL,
	}
	return nil
}

func (g *Gateway) snapshot() (settings, *payload.Builder) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings, g.builder
}

func (g *Gateway) CheckoutFields(billingPhone string) PaymentFields {
	s, _ := g.snapshot()
	return PaymentFields{
		ID:          GatewayID,
		Title:       s.title,
		Description: s.description,
		Enabled:     s.enabled,
		Supports:    []string{"products", "refunds"},
		Fields: []Field{{
			Name:        "phone",
			Type:        "tel",
			Label:       "Mobile money number",
			Placeholder: "07XXXXXXXX",
			Required:    true,
			Value:       billingPhone,
		}},
	}
}

func (g *Gateway) HandleReturn(ctx context.Context, orderID int64) (ReturnPage, error) {
	order, err := g.orders.GetOrder(ctx, orderID)
	if err != nil {
		return ReturnPage{}, err
	}

	s, _ := g.snapshot()
	return ReturnPage{
		OrderID:      order.ID,
		Status:       order.Status,
		Paid:         order.Status == model.OrderStatusPaid,
		Instructions: s.instructions,
	}, nil
}

func (g *Gateway) HandleWebhook(ctx context.Context, raw []byte) model.WebhookAck {
	return g.webhooks.Handle(ctx, raw)
}

// WebhookURL is the callback address operators register with Selcom.
func (g *Gateway) WebhookURL() string {
	s, _ := g.snapshot()
	return s.webhookURL
}
