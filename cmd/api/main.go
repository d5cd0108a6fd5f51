package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/api"
	"github.com/safar/stockroom/internal/cache"
	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/events"
	"github.com/safar/stockroom/internal/observability"
	"github.com/safar/stockroom/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logShutdown, logErr := observability.SetupLoggingSDK(ctx, cfg.Observability)
	_, traceShutdown, traceErr := observability.SetupTracingSDK(ctx, cfg.Observability)
	metricShutdown, metricErr := observability.SetupMetricsSDK(ctx, cfg.Observability)

	logger := observability.NewLogger(cfg.Observability)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if logErr != nil {
		logger.Error("failed to setup OpenTelemetry logging", zap.Error(logErr))
	}
	if traceErr != nil {
		logger.Error("failed to setup OpenTelemetry tracing", zap.Error(traceErr))
	}
	if metricErr != nil {
		logger.Error("failed to setup OpenTelemetry metrics", zap.Error(metricErr))
	}

	counters, err := observability.NewCounters(nil)
	if err != nil {
		logger.Fatal("register request counters", zap.Error(err))
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	var idem service.IdempotencyStore
	if cfg.Redis.Enabled() {
		client := cache.NewRedisClient(cfg.Redis)
		defer client.Close()

		// The pending marker outlives one order deadline with room to spare.
		keys := cache.NewIdempotency(client, 2*cfg.Order.Timeout, cfg.Redis.IdempotencyTTL)
		if err := keys.Ping(ctx); err != nil {
			logger.Fatal("connect to redis", zap.Error(err))
		}
		idem = keys
		logger.Info("idempotency keys enabled", zap.String("redis", cfg.Redis.Addr))
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled() {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka, otel.GetTracerProvider())
		if err != nil {
			logger.Fatal("create kafka publisher", zap.Error(err))
		}
		defer publisher.Close()

		relay := events.NewRelay(db, publisher, logger.Named("outbox"), cfg.Kafka.OutboxInterval, cfg.Kafka.OutboxBatch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Start(ctx)
		}()
	} else {
		logger.Info("KAFKA_BROKERS not set, outbox events stay in the database")
	}

	server := api.NewServer(api.Deps{
		Orders:    service.NewOrderService(db, idem, logger, cfg.Order),
		Inventory: service.NewInventoryService(db, logger),
		Products:  service.NewProductService(db, logger),
		Users:     service.NewUserService(db, logger),
		DB:        db,
		Counters:  counters,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	wg.Wait()

	if err := observability.Shutdown(shutdownCtx, traceShutdown, metricShutdown, logShutdown); err != nil {
		logger.Error("telemetry shutdown", zap.Error(err))
	}
}
