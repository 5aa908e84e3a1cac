package checkout

import (
	"context"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"selcom-gateway/internal/gateway"
	"selcom-gateway/internal/logcontext"
	"selcom-gateway/internal/model"
)

const (
	genericErrorNotice = "An error occurred. Please try again"
	paymentErrorPrefix = "Payment error: "
	invalidPhoneNotice = "Please enter a valid mobile money number"
	disabledNotice     = "Selcom payments are currently unavailable"
	unknownOrderNotice = "We could not find your order. Please try again"
	alreadyPaidNotice  = "This order has already been paid"
	notPayableNotice   = "This order can no longer be paid"
)

var (
	checkoutSuccessCounter      = metrics.GetOrCreateCounter(`selcom_checkout_total{result="success"}`)
	checkoutCreateFailedCounter = metrics.GetOrCreateCounter(`selcom_checkout_total{result="order_create_failed"}`)
	checkoutChargeFailedCounter = metrics.GetOrCreateCounter(`selcom_checkout_total{result="charge_failed"}`)
	checkoutRejectedCounter     = metrics.GetOrCreateCounter(`selcom_checkout_total{result="rejected"}`)
)

// Charge runs create-order then wallet-payment for orderID.
//
// A failed create-order cancels the checkout. A failed charge still sends the
// buyer to the order-received page since Selcom can complete the payment later
// through the webhook.
func (g *Gateway) Charge(ctx context.Context, orderID int64, phone string) Result {
	attemptID := uuid.New()
	ctx = logcontext.AppendCtx(ctx,
		slog.String("attemptId", attemptID.String()),
		slog.Int64("orderId", orderID),
	)

	s, builder := g.snapshot()
	if !s.enabled {
		g.logger.WarnContext(ctx, "Checkout attempted while gateway is disabled")
		checkoutRejectedCounter.Inc()
		return Result{Result: ResultFail, Notice: disabledNotice}
	}

	order, err := g.orders.GetOrder(ctx, orderID)
	if err != nil {
		g.logger.ErrorContext(ctx, "Error loading order", "error", err)
		checkoutRejectedCounter.Inc()
		return Result{Result: ResultFail, Notice: unknownOrderNotice}
	}

	if order.Status == model.OrderStatusPaid {
		g.logger.InfoContext(ctx, "Order already paid, skipping provider calls")
		checkoutRejectedCounter.Inc()
		return Result{Result: ResultFail, Notice: alreadyPaidNotice, Redirect: g.urls.Return(order)}
	}
	if !order.Status.Payable() {
		g.logger.WarnContext(ctx, "Order is not payable, skipping provider calls", "status", order.Status)
		checkoutRejectedCounter.Inc()
		return Result{Result: ResultFail, Notice: notPayableNotice}
	}

	msisdn, err := builder.NormalizePhone(phone)
	if err != nil {
		g.logger.WarnContext(ctx, "Invalid phone number", "error", err)
		checkoutRejectedCounter.Inc()
		return Result{Result: ResultFail, Notice: invalidPhoneNotice}
	}

	g.record(ctx, attemptID, order.ID, StateStart, "", "")

	g.record(ctx, attemptID, order.ID, StateOrderCreateSent, "", "")
	created := g.provider.Send(ctx, gateway.CreateOrderEndpoint, builder.CreateOrder(order, msisdn))
	if !created.Succeeded() {
		notice := created.Message
		if created.Result == "" || notice == "" {
			notice = genericErrorNotice
		}
		g.logger.WarnContext(ctx, "Create order failed", "result", created.Result, "message", created.Message)
		g.record(ctx, attemptID, order.ID, StateOrderCreateFailed, created.Message, "")
		checkoutCreateFailedCounter.Inc()

		return Result{Result: ResultFail, Notice: notice, Redirect: g.urls.Cancel(order)}
	}
	g.record(ctx, attemptID, order.ID, StateOrderCreated, created.Message, created.TransID)

	g.record(ctx, attemptID, order.ID, StateChargeSent, "", "")
	charged := g.provider.Send(ctx, gateway.WalletPaymentEndpoint, builder.WalletCharge(order, msisdn))
	if !charged.Succeeded() {
		g.logger.WarnContext(ctx, "Wallet charge failed", "result", charged.Result, "message", charged.Message)
		g.record(ctx, attemptID, order.ID, StateChargeFailed, charged.Message, charged.TransID)
		checkoutChargeFailedCounter.Inc()

		return Result{Result: ResultFail, Notice: paymentErrorPrefix + charged.Message, Redirect: g.urls.Return(order)}
	}
	g.record(ctx, attemptID, order.ID, StateChargeSuccess, string(charged.PaymentStatus), charged.TransID)

	g.complete(ctx, order, charged)
	checkoutSuccessCounter.Inc()

	return Result{Result: ResultSuccess, Redirect: g.urls.Return(order)}
}

// complete applies the local side effects of an accepted charge. Failures are
// logged: the provider has taken the money, so the buyer still gets a success.
func (g *Gateway) complete(ctx context.Context, order *model.Order, charged model.GatewayResponse) {
	if err := g.inventory.EmptyCart(ctx, order.CustomerID); err != nil {
		g.logger.ErrorContext(ctx, "Error emptying cart", "customerId", order.CustomerID, "error", err)
	}

	if err := g.inventory.ReduceStockLevels(ctx, order.ID); err != nil {
		g.logger.ErrorContext(ctx, "Error reducing stock levels", "error", err)
	}

	if charged.PaymentStatus != model.PaymentStatusComplete {
		g.logger.InfoContext(ctx, "Charge accepted, waiting for payment confirmation", "paymentStatus", charged.PaymentStatus)
		return
	}

	ref := charged.TransID
	if ref == "" {
		ref = order.OrderKey
	}

	applied, err := g.orders.MarkPaid(ctx, order.ID, ref)
	switch {
	case err != nil:
		g.logger.ErrorContext(ctx, "Error marking order paid", "transId", ref, "error", err)
	case !applied:
		g.logger.InfoContext(ctx, "Order already completed by another channel", "transId", ref)
	default:
		g.logger.InfoContext(ctx, "Order marked paid", "transId", ref)
	}
}

func (g *Gateway) record(ctx context.Context, attemptID uuid.UUID, orderID int64, state State, message, transID string) {
	g.logger.DebugContext(ctx, "Checkout state", "state", state)
	if g.attempts == nil {
		return
	}

	if err := g.attempts.SaveAttempt(ctx, newAttempt(ctx, attemptID, orderID, state, message, transID)); err != nil {
		g.logger.ErrorContext(ctx, "Error saving attempt", "state", state, "error", err)
	}
}
