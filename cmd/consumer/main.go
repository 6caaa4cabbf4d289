package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/consumer"
	"github.com/BarkinBalci/event-ingestion-service/internal/deadletter"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/health"
	"github.com/BarkinBalci/event-ingestion-service/internal/logger"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue/sqs"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository/clickhouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	baseLog, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	log := logger.Named(baseLog, "consumer")
	defer func() {
		_ = baseLog.Sync()
	}()

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize ClickHouse client
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	repo := clickhouse.NewRepository(chClient, log)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	sink, err := deadletter.NewFromConfig(ctx, cfg, sqsClient, log.Named("deadletter"))
	if err != nil {
		log.Fatal("Failed to create dead letter sink", zap.Error(err))
	}

	c := consumer.NewConsumer(cfg, sqsClient, repo, sink, m, log)

	checker := health.NewChecker(2*time.Second, log).
		Register("queue", sqsClient).
		Register("store", repo)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := checker.Check(r.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(dto.HealthResponse{Status: report.Status, Checks: report.Checks})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	healthSrv := &http.Server{
		Addr:              ":" + cfg.Consumer.HealthCheckPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Health check server starting", zap.String("address", healthSrv.Addr))
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	log.Info("Consumer starting")

	// Start returns once every stage has drained after ctx is cancelled.
	if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Consumer error", zap.Error(err))
	}

	log.Info("Shutting down consumer gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("Health check server shutdown failed", zap.Error(err))
	}

	log.Info("Consumer stopped")
}
