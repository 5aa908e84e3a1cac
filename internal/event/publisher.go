package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"selcom-gateway/internal/message"
)

var (
	webhookQueuedCounter      = metrics.GetOrCreateCounter(`selcom_webhook_queue_total{result="queued"}`)
	webhookQueueFailedCounter = metrics.GetOrCreateCounter(`selcom_webhook_queue_total{result="failed"}`)
)

// WebhookPublisher queues raw Selcom callbacks for asynchronous reconciliation.
type WebhookPublisher struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewWebhookPublisher(writer MessageWriter, logger *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{writer: writer, logger: logger}
}

// Publish is keyed by orderRef so deliveries for one order are consumed in order.
func (p *WebhookPublisher) Publish(ctx context.Context, orderRef string, raw []byte) error {
	delivery := message.WebhookDelivery{
		ID:         uuid.New(),
		Body:       string(raw),
		ReceivedAt: time.Now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		delivery.TraceID = sc.TraceID().String()
	}

	value, err := json.Marshal(delivery)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(orderRef), Value: value}); err != nil {
		p.logger.ErrorContext(ctx, "Error queueing webhook", "deliveryId", delivery.ID, "error", err)
		webhookQueueFailedCounter.Inc()
		return err
	}

	p.logger.InfoContext(ctx, "Webhook queued", "deliveryId", delivery.ID, "orderRef", orderRef)
	webhookQueuedCounter.Inc()
	return nil
}
