package payload

import (
	"encoding/base64"
	"math"

	"selcom-gateway/internal/config"
	"selcom-gateway/internal/model"
)

const Currency = "TZS"

// Builder assembles create-order and wallet-payment payloads for one deployment.
type Builder struct {
	vendor               string
	webhookURL           string
	webhookInCreateOrder bool
	webhookInCharge      bool
	chargeAmount         bool
	phoneRule            PhoneRule
}

func NewBuilder(cfg config.Selcom) (*Builder, error) {
	rule, err := PhoneRuleFor(cfg.PhoneRule)
	if err != nil {
		return nil, err
	}

	return &Builder{
		vendor:               cfg.Vendor,
		webhookURL:           cfg.Webhook.URL,
		webhookInCreateOrder: cfg.Webhook.InCreateOrder,
		webhookInCharge:      cfg.Webhook.InCharge,
		chargeAmount:         cfg.ChargeAmount,
		phoneRule:            rule,
	}, nil
}

func (b *Builder) NormalizePhone(raw string) (string, error) {
	return b.phoneRule(raw)
}

// Amount rounds to whole shillings; the provider has no sub-unit precision.
func Amount(total float64) int64 {
	return int64(math.Round(total))
}

// CreateOrder builds the /checkout/create-order-minimal body.
func (b *Builder) CreateOrder(order *model.Order, msisdn string) *Payload {
	p := New().
		Set("utilityref", order.ID).
		Set("transid", order.OrderKey).
		Set("amount", Amount(order.Total)).
		Set("vendor", b.vendor).
		Set("order_id", order.ID).
		Set("buyer_email", order.BillingEmail).
		Set("buyer_name", order.BillingName()).
		Set("buyer_phone", msisdn).
		Set("currency", Currency).
		Set("no_of_items", order.ItemCount)

	if b.webhookInCreateOrder && b.webhookURL != "" {
		p.Set("webhook", base64.StdEncoding.EncodeToString([]byte(b.webhookURL)))
	}
	return p
}

// WalletCharge builds the /checkout/wallet-payment body.
func (b *Builder) WalletCharge(order *model.Order, msisdn string) *Payload {
	p := New().
		Set("order_id", order.ID).
		Set("transid", order.OrderKey).
		Set("msisdn", msisdn)

	if b.chargeAmount {
		p.Set("amount", Amount(order.Total))
	}
	if b.webhookInCharge && b.webhookURL != "" {
		p.Set("webhook", b.webhookURL)
	}
	return p
}
