package callback

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"selcom-gateway/internal/logcontext"
	"selcom-gateway/internal/model"
)

const PaymentReceivedNote = "Payment received."

var (
	webhookCompletedCounter  = metrics.GetOrCreateCounter(`selcom_webhook_total{result="completed"}`)
	webhookIgnoredCounter    = metrics.GetOrCreateCounter(`selcom_webhook_total{result="ignored"}`)
	webhookInvalidCounter    = metrics.GetOrCreateCounter(`selcom_webhook_total{result="invalid"}`)
	webhookUnresolvedCounter = metrics.GetOrCreateCounter(`selcom_webhook_total{result="unresolved"}`)
	webhookConflictCounter   = metrics.GetOrCreateCounter(`selcom_webhook_total{result="conflict"}`)
	webhookDuplicateCounter  = metrics.GetOrCreateCounter(`selcom_webhook_total{result="duplicate"}`)
	webhookErrorCounter      = metrics.GetOrCreateCounter(`selcom_webhook_total{result="error"}`)

	webhookDurationHistogram = metrics.GetOrCreateHistogram(`selcom_webhook_duration_milliseconds`)
)

type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	// MarkPaidIfPending must only move a pending order to paid.
	MarkPaidIfPending(ctx context.Context, id int64, transactionRef string) (bool, error)
	AddNote(ctx context.Context, id int64, note string) error
}

// Guard collapses concurrent deliveries of the same callback.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Reconciler applies Selcom IPN callbacks to orders.
type Reconciler struct {
	orders OrderStore
	guard  Guard
	logger *slog.Logger
}

// NewReconciler creates a reconciler. guard may be nil.
func NewReconciler(orders OrderStore, guard Guard, logger *slog.Logger) *Reconciler {
	return &Reconciler{orders: orders, guard: guard, logger: logger}
}

// Handle always acknowledges: Selcom retries anything else indefinitely.
// Only a SUCCESS callback for a pending order changes state.
func (r *Reconciler) Handle(ctx context.Context, raw []byte) model.WebhookAck {
	startTime := time.Now()
	defer func() {
		webhookDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	event, err := ParseEvent(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "Error parsing webhook", "error", err, "body", event.Raw)
		webhookInvalidCounter.Inc()
		return model.NewWebhookAck("")
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("orderRef", event.OrderRef), slog.String("transId", event.TransID))
	r.logger.InfoContext(ctx, "Received webhook", "result", event.Result)

	r.reconcile(ctx, event)
	return model.NewWebhookAck(event.OrderRef)
}

func (r *Reconciler) reconcile(ctx context.Context, event model.WebhookEvent) {
	if event.Result != model.ResultSuccess {
		r.logger.InfoContext(ctx, "Ignoring non-success webhook", "result", event.Result)
		webhookIgnoredCounter.Inc()
		return
	}

	orderID, err := strconv.ParseInt(event.OrderRef, 10, 64)
	if err != nil {
		r.logger.WarnContext(ctx, "Webhook order reference is not an order id")
		webhookUnresolvedCounter.Inc()
		return
	}

	if r.guard != nil {
		key := "webhook:" + event.OrderRef
		acquired, err := r.guard.Acquire(ctx, key)
		switch {
		case err != nil:
			// The conditional update below still prevents double completion.
			r.logger.WarnContext(ctx, "Error acquiring webhook guard", "error", err)
		case !acquired:
			r.logger.InfoContext(ctx, "Webhook for order already in flight")
			webhookDuplicateCounter.Inc()
			return
		default:
			defer func() {
				if err := r.guard.Release(context.WithoutCancel(ctx), key); err != nil {
					r.logger.WarnContext(ctx, "Error releasing webhook guard", "error", err)
				}
			}()
		}
	}

	order, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		r.logger.WarnContext(ctx, "Webhook order not found", "error", err)
		webhookUnresolvedCounter.Inc()
		return
	}

	if order.Status != model.OrderStatusPending {
		r.logger.InfoContext(ctx, "Order not pending, nothing to reconcile", "status", order.Status)
		webhookConflictCounter.Inc()
		return
	}

	applied, err := r.orders.MarkPaidIfPending(ctx, orderID, event.TransID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking order paid", "error", err)
		webhookErrorCounter.Inc()
		return
	}
	if !applied {
		r.logger.InfoContext(ctx, "Order completed concurrently by another channel")
		webhookConflictCounter.Inc()
		return
	}

	if err := r.orders.AddNote(ctx, orderID, PaymentReceivedNote); err != nil {
		r.logger.ErrorContext(ctx, "Error adding order note", "error", err)
	}

	r.logger.InfoContext(ctx, "Order marked paid from webhook")
	webhookCompletedCounter.Inc()
}
