package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selcom-gateway/internal/callback"
	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/gateway"
	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
)

func webhookBody(transID string) []byte {
	return []byte(fmt.Sprintf(`{"result":"SUCCESS","utilityref":"42","transid":%q}`, transID))
}

// newCompletionFixture wires the gateway to a real reconciler over one store.
// charge is called for the wallet-payment step.
func newCompletionFixture(t *testing.T, charge func(r *callback.Reconciler) model.GatewayResponse) (*checkout.Gateway, *callback.Reconciler, *memStore) {
	t.Helper()
	store := newMemStore(pendingOrder())
	reconciler := callback.NewReconciler(store, nil, discard)

	provider := providerFunc(func(_ context.Context, endpoint string, _ *payload.Payload) model.GatewayResponse {
		if endpoint == gateway.CreateOrderEndpoint {
			return success("", "")
		}
		return charge(reconciler)
	})

	gw, err := checkout.NewGateway(selcomConfig(), provider, store, &fakeInventory{}, reconciler, nil, checkout.URLs{BaseURL: baseURL}, discard)
	require.NoError(t, err)
	return gw, reconciler, store
}

func TestCompletion_WebhookBeforeSyncResponse(t *testing.T) {
	gw, _, store := newCompletionFixture(t, func(r *callback.Reconciler) model.GatewayResponse {
		r.Handle(context.Background(), webhookBody("HOOK-1"))
		r.Handle(context.Background(), webhookBody("HOOK-1"))
		return success("SYNC-1", model.PaymentStatusComplete)
	})

	result := gw.Charge(context.Background(), 42, "0712345678")

	assert.True(t, result.Succeeded())
	order := store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, "HOOK-1", order.TransactionID)
	assert.Equal(t, "HOOK-1", store.firstRef())
	assert.Equal(t, 1, store.applied)
	assert.Equal(t, []string{callback.PaymentReceivedNote}, store.orderNotes(42))
}

func TestCompletion_SyncResponseBeforeWebhook(t *testing.T) {
	gw, reconciler, store := newCompletionFixture(t, func(*callback.Reconciler) model.GatewayResponse {
		return success("SYNC-1", model.PaymentStatusComplete)
	})

	result := gw.Charge(context.Background(), 42, "0712345678")
	for i := 0; i < 3; i++ {
		ack := gw.HandleWebhook(context.Background(), webhookBody("HOOK-1"))
		assert.Equal(t, model.NewWebhookAck("42"), ack)
	}
	reconciler.Handle(context.Background(), webhookBody("HOOK-2"))

	assert.True(t, result.Succeeded())
	order := store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, "SYNC-1", order.TransactionID)
	assert.Equal(t, 1, store.applied)
	assert.Empty(t, store.orderNotes(42))
}

func TestCompletion_PendingChargeCompletedByWebhook(t *testing.T) {
	gw, _, store := newCompletionFixture(t, func(*callback.Reconciler) model.GatewayResponse {
		return success("SEL-1", model.PaymentStatusPending)
	})

	gw.Charge(context.Background(), 42, "0712345678")
	assert.Equal(t, model.OrderStatusPending, store.order(42).Status)

	gw.HandleWebhook(context.Background(), webhookBody("SEL-1"))
	gw.HandleWebhook(context.Background(), webhookBody("SEL-1"))

	order := store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, "SEL-1", order.TransactionID)
	assert.Equal(t, 1, store.applied)
	assert.Equal(t, []string{callback.PaymentReceivedNote}, store.orderNotes(42))
}

func TestCompletion_ConcurrentChannelsPayOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	gw, reconciler, store := newCompletionFixture(t, func(*callback.Reconciler) model.GatewayResponse {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return success(fmt.Sprintf("SYNC-%d", attempts), model.PaymentStatusComplete)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			gw.Charge(context.Background(), 42, "0712345678")
		}()
		go func(i int) {
			defer wg.Done()
			reconciler.Handle(context.Background(), webhookBody(fmt.Sprintf("HOOK-%d", i%3)))
		}(i)
	}
	wg.Wait()

	order := store.order(42)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, 1, store.applied)
	assert.NotEmpty(t, order.TransactionID)
	assert.Equal(t, store.firstRef(), order.TransactionID)
	assert.LessOrEqual(t, len(store.orderNotes(42)), 1)
}
