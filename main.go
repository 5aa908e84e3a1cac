package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"selcom-gateway/internal/cache"
	"selcom-gateway/internal/callback"
	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/config"
	"selcom-gateway/internal/db"
	"selcom-gateway/internal/event"
	"selcom-gateway/internal/gateway"
	"selcom-gateway/internal/httpx"
	"selcom-gateway/internal/kafka"
	"selcom-gateway/internal/logging"
	"selcom-gateway/internal/metrics"
	"selcom-gateway/internal/telemetry"
)

func main() {
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer shutdownTracer(context.Background())

	if err := db.RunMigrations(cfg.Database.ConnString(), cfg.Database.Migrations); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(ctx, cfg.Database.ConnString())
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	repo := db.NewOrderRepository(dbpool)

	var guard callback.Guard
	if cfg.Redis.Addr != "" {
		redisClient := cache.NewRedisClient(cfg.Redis.Addr)
		defer redisClient.Close()
		guard = cache.NewRedisGuard(redisClient, "selcom-gateway", time.Duration(cfg.Redis.LockTTLMs)*time.Millisecond)
	}
	reconciler := callback.NewReconciler(repo, guard, logger)

	paymentGateway, err := checkout.NewGateway(
		cfg.Selcom,
		gateway.NewClient(cfg.Selcom, logger),
		repo,
		repo,
		reconciler,
		repo,
		checkout.URLs{BaseURL: cfg.Shop.BaseURL},
		logger,
	)
	if err != nil {
		log.Fatal(err)
	}

	eventWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.PaymentEvents)
	defer eventWriter.Close()

	producer := event.NewProducer(repo, eventWriter, cfg.Outbox, logger)
	producer.Start(ctx)

	var queue httpx.WebhookQueue
	if cfg.Selcom.Webhook.Async {
		webhookWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.SelcomWebhooks)
		defer webhookWriter.Close()
		queue = event.NewWebhookPublisher(webhookWriter, logger)

		webhookReader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.SelcomWebhooks, cfg.Kafka.Reader.GroupID)
		defer webhookReader.Close()
		kafka.ReadWebhookEvents(ctx, webhookReader, reconciler, logger)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpx.NewRouter(httpx.NewHandler(paymentGateway, queue, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server", "error", err)
		}
	}()

	logger.Info("Selcom gateway listening", "port", cfg.Server.Port, "webhookUrl", paymentGateway.WebhookURL())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
