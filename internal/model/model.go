package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOnHold    OrderStatus = "on-hold"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Payable reports whether a completion may still move the order to paid.
func (s OrderStatus) Payable() bool {
	return s == OrderStatusPending || s == OrderStatusOnHold
}

type Order struct {
	ID            int64       `json:"id"`
	OrderKey      string      `json:"orderKey"`
	CustomerID    int64       `json:"customerId"`
	Status        OrderStatus `json:"status"`
	Total         float64     `json:"total"`
	Currency      string      `json:"currency"`
	BillingFirst  string      `json:"billingFirstName"`
	BillingLast   string      `json:"billingLastName"`
	BillingEmail  string      `json:"billingEmail"`
	BillingPhone  string      `json:"billingPhone"`
	ItemCount     int         `json:"itemCount"`
	TransactionID string      `json:"transactionId,omitempty"`
	PaymentMethod string      `json:"paymentMethod"`
	StockReduced  bool        `json:"stockReduced"`
	CreatedAt     time.Time   `json:"createdAt"`
	PaidAt        *time.Time  `json:"paidAt,omitempty"`
}

// BillingName joins first and last name the way the provider expects buyer_name.
func (o *Order) BillingName() string {
	switch {
	case o.BillingFirst == "":
		return o.BillingLast
	case o.BillingLast == "":
		return o.BillingFirst
	default:
		return o.BillingFirst + " " + o.BillingLast
	}
}

type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFail    Result = "FAIL"
)

type PaymentStatus string

const (
	PaymentStatusComplete PaymentStatus = "COMPLETE"
	PaymentStatusPending  PaymentStatus = "PENDING"
)

// GatewayResponse is the provider's answer to a create-order or wallet-payment call.
// Transport failures are folded into a FAIL response carrying the error text.
type GatewayResponse struct {
	Result        Result        `json:"result"`
	ResultCode    string        `json:"resultcode,omitempty"`
	Message       string        `json:"message,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	TransID       string        `json:"transid,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
}

// UnmarshalJSON accepts numbers as well as strings for every field; Selcom sends
// reference, resultcode and transid either way.
func (r *GatewayResponse) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return err
	}

	*r = GatewayResponse{
		Result:        Result(Text(fields["result"])),
		ResultCode:    Text(fields["resultcode"]),
		Message:       Text(fields["message"]),
		Reference:     Text(fields["reference"]),
		TransID:       Text(fields["transid"]),
		PaymentStatus: PaymentStatus(Text(fields["payment_status"])),
	}
	return nil
}

func (r GatewayResponse) Succeeded() bool {
	return r.Result == ResultSuccess
}

// Text renders a loosely typed JSON value as a string. Numbers decoded with
// UseNumber keep their original digits.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// WebhookEvent is a parsed IPN callback.
type WebhookEvent struct {
	Result   Result `json:"result"`
	OrderRef string `json:"orderRef"`
	TransID  string `json:"transid"`
	Raw      string `json:"-"`
}

// WebhookAck is returned to the provider for every callback.
type WebhookAck struct {
	Result  string `json:"result"`
	OrderID string `json:"order_id"`
}

func NewWebhookAck(orderRef string) WebhookAck {
	return WebhookAck{Result: "success", OrderID: orderRef}
}

var (
	ErrGatewayDisabled = errors.New("payment gateway is disabled")
	ErrAlreadyPaid     = errors.New("order is already paid")
)
