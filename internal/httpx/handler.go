package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"selcom-gateway/internal/callback"
	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/db"
	"selcom-gateway/internal/model"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookQueue hands a callback to asynchronous processing.
type WebhookQueue interface {
	Publish(ctx context.Context, orderRef string, raw []byte) error
}

type Handler struct {
	gateway checkout.PaymentGateway
	queue   WebhookQueue
	logger  *slog.Logger
}

// NewHandler builds the HTTP handlers. queue may be nil, in which case webhooks
// are reconciled before the response is written.
func NewHandler(gateway checkout.PaymentGateway, queue WebhookQueue, logger *slog.Logger) *Handler {
	return &Handler{gateway: gateway, queue: queue, logger: logger}
}

func (h *Handler) PaymentFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.CheckoutFields(r.URL.Query().Get("billing_phone")))
}

// Pay answers 200 for a successful checkout and 402 otherwise; the body carries
// the notice and redirect either way.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone_required", "phone is required")
		return
	}

	result := h.gateway.Charge(r.Context(), orderID, req.Phone)
	status := http.StatusOK
	if !result.Succeeded() {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, result)
}

func (h *Handler) OrderReceived(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	page, err := h.gateway.HandleReturn(r.Context(), orderID)
	if errors.Is(err, db.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error loading order-received page", "orderId", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Webhook always answers 200 with the acknowledgement Selcom expects.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading webhook body", "error", err)
	}

	if h.queue != nil {
		event, _ := callback.ParseEvent(raw)
		if err := h.queue.Publish(r.Context(), event.OrderRef, raw); err == nil {
			writeJSON(w, http.StatusOK, model.NewWebhookAck(event.OrderRef))
			return
		}
		h.logger.WarnContext(r.Context(), "Webhook queue unavailable, reconciling inline")
	}

	writeJSON(w, http.StatusOK, h.gateway.HandleWebhook(r.Context(), raw))
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_order_id", "")
		return 0, false
	}
	return orderID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
