package event

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"selcom-gateway/internal/config"
	"selcom-gateway/internal/db"
	"selcom-gateway/internal/logcontext"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`payment_event_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`payment_event_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`payment_event_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`payment_event_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`payment_event_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="rescheduled"}`)
)

type EventStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*db.PaymentEventEntity, error)
	UpdateEvent(ctx context.Context, tx pgx.Tx, e *db.PaymentEventEntity) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer relays payment_event outbox rows to Kafka.
type Producer struct {
	repo               EventStore
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo EventStore, writer MessageWriter, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(orDefault(cfg.PollingIntervalMs, defaultPollingIntervalMs)) * time.Millisecond,
		fetchSize:          orDefault(cfg.FetchSize, defaultFetchSize),
		retryDelay:         time.Duration(orDefault(cfg.RescheduleDelayMs, defaultRetryPublishDelayMs)) * time.Millisecond,
		maxPublishAttempts: orDefault(cfg.MaxPublishAttempts, defaultMaxPublishAttempts),
		logger:             logger,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping producer")
				return
			}
		}
	}()
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished payment events", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		p.logger.DebugContext(ctx, "No unpublished payment events found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing payment events to Kafka", "count", len(events))

	publishErr := p.writer.WriteMessages(ctx, toKafkaMessages(events)...)
	if publishErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", publishErr)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, e := range events {
		messageCtx := logcontext.AppendCtx(ctx, slog.String("eventId", e.ID.String()))

		e.PublishAttempts++

		if publishErr != nil {
			errMsg := publishErr.Error()
			e.Error = &errMsg

			if e.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(messageCtx, "Max publish attempts reached for payment event")
				e.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(e.PublishAttempts) * p.retryDelay)
				e.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			e.ScheduledAt = nil
			e.PublishedAt = &now
			e.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if err := p.repo.UpdateEvent(messageCtx, tx, e); err != nil {
			p.logger.ErrorContext(messageCtx, "Error updating payment event", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Payment events batch committed")
	producerSuccessCounter.Inc()
}

// toKafkaMessages keys every message by order id so events of one order stay ordered.
func toKafkaMessages(events []*db.PaymentEventEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		kafkaMessages = append(kafkaMessages, kafka.Message{
			Key:   []byte(strconv.FormatInt(e.OrderID, 10)),
			Value: []byte(e.Payload),
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(e.Event)},
				{Key: "id", Value: []byte(e.ID.String())},
			},
		})
	}
	return kafkaMessages
}
