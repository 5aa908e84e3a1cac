package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/config"
	"selcom-gateway/internal/gateway"
	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
)

const (
	baseURL   = "https://shop.example"
	returnURL = "https://shop.example/checkout/order-received/42?key=wc_order_abc123"
	cancelURL = "https://shop.example/cart?cancel_order=true&order=wc_order_abc123&order_id=42"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func selcomConfig() config.Selcom {
	return config.Selcom{
		Enabled:      true,
		Title:        "Selcom Gateway",
		Description:  "Pay via Selcom Gateway",
		Instructions: "Approve the push prompt on your phone",
		Vendor:       "TILL60000000",
		APIKey:       "key",
		APISecret:    "secret",
		APIURL:       "http://selcom.test/v1",
		TimeoutMs:    1_000,
		PhoneRule:    config.PhoneRuleLastNine,
		Webhook: config.SelcomWebhook{
			URL:           baseURL + "/webhooks/selcom",
			InCreateOrder: true,
			InCharge:      true,
		},
	}
}

func pendingOrder() *model.Order {
	return &model.Order{
		ID:           42,
		OrderKey:     "wc_order_abc123",
		CustomerID:   7,
		Status:       model.OrderStatusPending,
		Total:        15000,
		Currency:     "TZS",
		BillingFirst: "Asha",
		BillingLast:  "Mushi",
		BillingEmail: "asha@example.com",
		BillingPhone: "0712345678",
		ItemCount:    2,
	}
}

type fixture struct {
	gw        *checkout.Gateway
	store     *memStore
	inventory *fakeInventory
	attempts  *memAttempts
}

func newFixture(t *testing.T, provider checkout.Provider, cfg config.Selcom) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(pendingOrder()),
		inventory: &fakeInventory{},
		attempts:  &memAttempts{},
	}
	gw, err := checkout.NewGateway(cfg, provider, f.store, f.inventory, staticWebhooks{}, f.attempts, checkout.URLs{BaseURL: baseURL}, discard)
	require.NoError(t, err)
	f.gw = gw
	return f
}

func success(transID string, status model.PaymentStatus) model.GatewayResponse {
	return model.GatewayResponse{Result: model.ResultSuccess, TransID: transID, PaymentStatus: status}
}

func TestCharge_CompletePayment(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.MatchedBy(func(p *payload.Payload) bool {
		v := p.Values()
		return v["buyer_phone"] == "255712345678" && v["amount"] == "15000" && v["currency"] == "TZS"
	})).Return(success("", "")).Once()
	provider.On("Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.MatchedBy(func(p *payload.Payload) bool {
		return p.Values()["msisdn"] == "255712345678"
	})).Return(success("SEL-987", model.PaymentStatusComplete)).Once()

	f := newFixture(t, provider, selcomConfig())

	result := f.gw.Charge(context.Background(), 42, "0712345678")

	assert.Equal(t, checkout.Result{Result: checkout.ResultSuccess, Redirect: returnURL}, result)
	assert.Equal(t, []int64{7}, f.inventory.emptied)
	assert.Equal(t, []int64{42}, f.inventory.stockReduced)

	order := f.store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, "SEL-987", order.TransactionID)

	assert.Equal(t, []checkout.State{
		checkout.StateStart,
		checkout.StateOrderCreateSent,
		checkout.StateOrderCreated,
		checkout.StateChargeSent,
		checkout.StateChargeSuccess,
	}, f.attempts.states())
	provider.AssertExpectations(t)
}

func TestCharge_PendingPaymentLeavesOrderUnpaid(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.Anything).Return(success("", "")).Once()
	provider.On("Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.Anything).Return(success("SEL-987", model.PaymentStatusPending)).Once()

	f := newFixture(t, provider, selcomConfig())

	result := f.gw.Charge(context.Background(), 42, "0712345678")

	assert.True(t, result.Succeeded())
	assert.Equal(t, []int64{7}, f.inventory.emptied)
	assert.Equal(t, []int64{42}, f.inventory.stockReduced)
	assert.Equal(t, model.OrderStatusPending, f.store.order(42).Status)
}

func TestCharge_MissingTransIDFallsBackToOrderKey(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.Anything).Return(success("", "")).Once()
	provider.On("Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.Anything).Return(success("", model.PaymentStatusComplete)).Once()

	f := newFixture(t, provider, selcomConfig())
	f.gw.Charge(context.Background(), 42, "0712345678")

	assert.Equal(t, "wc_order_abc123", f.store.order(42).TransactionID)
}

func TestCharge_CreateOrderFailure(t *testing.T) {
	tests := []struct {
		name       string
		response   model.GatewayResponse
		wantNotice string
	}{
		{
			name:       "provider rejection",
			response:   model.GatewayResponse{Result: model.ResultFail, Message: "Invalid vendor"},
			wantNotice: "Invalid vendor",
		},
		{
			name:       "no result",
			response:   model.GatewayResponse{},
			wantNotice: "An error occurred. Please try again",
		},
		{
			name:       "rejection without message",
			response:   model.GatewayResponse{Result: model.ResultFail},
			wantNotice: "An error occurred. Please try again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{}
			provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.Anything).Return(tt.response).Once()

			f := newFixture(t, provider, selcomConfig())
			result := f.gw.Charge(context.Background(), 42, "0712345678")

			assert.Equal(t, checkout.ResultFail, result.Result)
			assert.Contains(t, result.Notice, tt.wantNotice)
			assert.Equal(t, cancelURL, result.Redirect)

			provider.AssertNotCalled(t, "Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.Anything)
			assert.Empty(t, f.inventory.emptied)
			assert.Empty(t, f.inventory.stockReduced)
			assert.Equal(t, model.OrderStatusPending, f.store.order(42).Status)
			assert.Equal(t, checkout.StateOrderCreateFailed, f.attempts.states()[len(f.attempts.states())-1])
		})
	}
}

func TestCharge_WalletChargeFailure(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.Anything).Return(success("", "")).Once()
	provider.On("Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.Anything).
		Return(model.GatewayResponse{Result: model.ResultFail, Message: "Insufficient balance"}).Once()

	f := newFixture(t, provider, selcomConfig())
	result := f.gw.Charge(context.Background(), 42, "0712345678")

	assert.Equal(t, checkout.Result{
		Result:   checkout.ResultFail,
		Redirect: returnURL,
		Notice:   "Payment error: Insufficient balance",
	}, result)
	assert.Empty(t, f.inventory.emptied)
	assert.Equal(t, model.OrderStatusPending, f.store.order(42).Status)
	provider.AssertExpectations(t)
}

func TestCharge_PreflightRejections(t *testing.T) {
	paid := pendingOrder()
	paid.ID = 43
	paid.Status = model.OrderStatusPaid

	disabled := selcomConfig()
	disabled.Enabled = false

	tests := []struct {
		name    string
		cfg     config.Selcom
		orderID int64
		phone   string
	}{
		{name: "disabled gateway", cfg: disabled, orderID: 42, phone: "0712345678"},
		{name: "unknown order", cfg: selcomConfig(), orderID: 404, phone: "0712345678"},
		{name: "already paid", cfg: selcomConfig(), orderID: 43, phone: "0712345678"},
		{name: "invalid phone", cfg: selcomConfig(), orderID: 42, phone: "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{}
			f := newFixture(t, provider, tt.cfg)
			f.store.orders[paid.ID] = paid

			result := f.gw.Charge(context.Background(), tt.orderID, tt.phone)

			assert.Equal(t, checkout.ResultFail, result.Result)
			assert.NotEmpty(t, result.Notice)
			provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, f.attempts.states())
		})
	}
}

func TestCharge_OrderStatus(t *testing.T) {
	tests := []struct {
		status      model.OrderStatus
		wantCharged bool
		wantNotice  string
	}{
		{status: model.OrderStatusPending, wantCharged: true},
		{status: model.OrderStatusOnHold, wantCharged: true},
		{status: model.OrderStatusPaid, wantNotice: "This order has already been paid"},
		{status: model.OrderStatusFailed, wantNotice: "This order can no longer be paid"},
		{status: model.OrderStatusCancelled, wantNotice: "This order can no longer be paid"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			provider := &mockProvider{}
			provider.On("Send", mock.Anything, gateway.CreateOrderEndpoint, mock.Anything).Return(success("", "")).Maybe()
			provider.On("Send", mock.Anything, gateway.WalletPaymentEndpoint, mock.Anything).
				Return(success("SEL-987", model.PaymentStatusComplete)).Maybe()

			f := newFixture(t, provider, selcomConfig())
			f.store.orders[42].Status = tt.status

			result := f.gw.Charge(context.Background(), 42, "0712345678")

			order := f.store.order(42)
			if tt.wantCharged {
				assert.Equal(t, checkout.ResultSuccess, result.Result)
				assert.Equal(t, model.OrderStatusPaid, order.Status)
				assert.Equal(t, "SEL-987", order.TransactionID)
				provider.AssertNumberOfCalls(t, "Send", 2)
				return
			}

			assert.Equal(t, checkout.ResultFail, result.Result)
			assert.Equal(t, tt.wantNotice, result.Notice)
			assert.Equal(t, tt.status, order.Status)
			assert.Empty(t, order.TransactionID)
			assert.Empty(t, f.inventory.emptied)
			assert.Empty(t, f.inventory.stockReduced)
			assert.Empty(t, f.attempts.states())
			provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// Transport failures surface through the real client exactly like a provider FAIL.
func TestCharge_TransportFailureMatchesProviderFail(t *testing.T) {
	defer gock.Off()
	gock.New("http://selcom.test").
		Post("/v1/checkout/create-order-minimal").
		ReplyError(errors.New("connection refused"))

	cfg := selcomConfig()
	client := gateway.NewClient(cfg, discard)
	f := newFixture(t, client, cfg)

	result := f.gw.Charge(context.Background(), 42, "0712345678")

	assert.Equal(t, checkout.ResultFail, result.Result)
	assert.Contains(t, result.Notice, "connection refused")
	assert.Equal(t, cancelURL, result.Redirect)
	assert.True(t, gock.IsDone())
}

func TestCharge_ConcurrentCompletionAppliesOnce(t *testing.T) {
	var calls atomic.Int64
	provider := providerFunc(func(_ context.Context, endpoint string, _ *payload.Payload) model.GatewayResponse {
		if endpoint == gateway.CreateOrderEndpoint {
			return success("", "")
		}
		return success(fmt.Sprintf("SEL-%d", calls.Add(1)), model.PaymentStatusComplete)
	})

	f := newFixture(t, provider, selcomConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.gw.Charge(context.Background(), 42, "0712345678")
		}()
	}

	// Competing completions from the webhook channel.
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.store.MarkPaid(context.Background(), 42, fmt.Sprintf("HOOK-%d", i))
		}(i)
	}
	wg.Wait()

	order := f.store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, 1, f.store.applied)
	assert.NotEmpty(t, order.TransactionID)
}

func TestGateway_CheckoutFields(t *testing.T) {
	f := newFixture(t, &mockProvider{}, selcomConfig())

	fields := f.gw.CheckoutFields("0712345678")

	assert.Equal(t, "selcom", fields.ID)
	assert.Equal(t, "Selcom Gateway", fields.Title)
	assert.True(t, fields.Enabled)
	assert.Contains(t, fields.Supports, "refunds")
	require.Len(t, fields.Fields, 1)
	assert.Equal(t, checkout.Field{
		Name:        "phone",
		Type:        "tel",
		Label:       "Mobile money number",
		Placeholder: "07XXXXXXXX",
		Required:    true,
		Value:       "0712345678",
	}, fields.Fields[0])
}

func TestGateway_Configure(t *testing.T) {
	f := newFixture(t, &mockProvider{}, selcomConfig())

	cfg := selcomConfig()
	cfg.Title = "Mobile Money"
	require.NoError(t, f.gw.Configure(cfg))
	assert.Equal(t, "Mobile Money", f.gw.CheckoutFields("").Title)

	cfg.PhoneRule = "first-nine"
	assert.Error(t, f.gw.Configure(cfg))
	assert.Equal(t, "Mobile Money", f.gw.CheckoutFields("").Title, "rejected settings are not applied")
}

func TestGateway_HandleReturn(t *testing.T) {
	f := newFixture(t, &mockProvider{}, selcomConfig())

	page, err := f.gw.HandleReturn(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, checkout.ReturnPage{
		OrderID:      42,
		Status:       model.OrderStatusPending,
		Instructions: "Approve the push prompt on your phone",
	}, page)

	_, err = f.gw.HandleReturn(context.Background(), 404)
	assert.Error(t, err)
}

func TestGateway_HandleWebhookDelegates(t *testing.T) {
	f := newFixture(t, &mockProvider{}, selcomConfig())
	assert.Equal(t, model.NewWebhookAck("42"), f.gw.HandleWebhook(context.Background(), []byte(`{}`)))
}
