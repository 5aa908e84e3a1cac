package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"

	"selcom-gateway/internal/logcontext"
	"selcom-gateway/internal/message"
	"selcom-gateway/internal/model"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var webhookDeliveryMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="selcom_webhook"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="selcom_webhook"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="selcom_webhook"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="selcom_webhook"}`),
}

// MessageReader is the subset of *kafka.Reader the consumer loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type WebhookHandler interface {
	Handle(ctx context.Context, raw []byte) model.WebhookAck
}

func NewReader(kafkaURL, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(kafkaURL, ","),
		GroupID: groupID,
		Topic:   topic,
	})
}

// ReadWebhookEvents consumes queued Selcom callbacks until ctx is done.
func ReadWebhookEvents(ctx context.Context, reader MessageReader, handler WebhookHandler, logger *slog.Logger) {
	go readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var d message.WebhookDelivery
		if err := json.Unmarshal(value, &d); err != nil {
			webhookDeliveryMetrics.UnmarshalErrorCounter.Inc()
			return err
		}

		ctx = logcontext.AppendCtx(ctx, slog.String("deliveryId", d.ID.String()))
		ack := handler.Handle(ctx, []byte(d.Body))
		logger.DebugContext(ctx, "Processed queued webhook", "orderRef", ack.OrderID)
		return nil
	}, webhookDeliveryMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) {
	for {
		logger.DebugContext(ctx, "Waiting for messages from Kafka...")
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.InfoContext(ctx, "Reader stopped", "error", err)
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.InfoContext(ctx, "Received message", "topic", m.Topic, "offset", m.Offset)

		if err := process(ctx, m.Value); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
