package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/audit"
	"github.com/BarkinBalci/event-ingestion-service/internal/auth"
	"github.com/BarkinBalci/event-ingestion-service/internal/cache"
	"github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/handler"
	"github.com/BarkinBalci/event-ingestion-service/internal/health"
	"github.com/BarkinBalci/event-ingestion-service/internal/idempotency"
	"github.com/BarkinBalci/event-ingestion-service/internal/logger"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue/sqs"
	"github.com/BarkinBalci/event-ingestion-service/internal/ratelimit"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository/clickhouse"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository/postgres"
	"github.com/BarkinBalci/event-ingestion-service/internal/service"
)

// @title Event Ingestion Service API
// @version 1.0
// @description Accepts client events for asynchronous processing and serves aggregate analytics
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	baseLog, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	log := logger.Named(baseLog, "api")
	defer func() {
		_ = baseLog.Sync()
	}()

	if cfg.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize ClickHouse client
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	eventRepo := clickhouse.NewRepository(clickhouseClient, log)
	defer func() {
		if err := eventRepo.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	// Initialize client registry and audit storage
	pool, err := postgres.Connect(ctx, &cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()
	registryRepo := postgres.NewRepository(pool)

	// Initialize Redis for rate limiting and idempotency
	redisClient, err := cache.Connect(ctx, &cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis client", zap.Error(err))
		}
	}()

	auditLogger := audit.NewLogger(registryRepo, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.AuditFlushInterval(),
	}, m, log.Named("audit"))

	ingestService := service.NewIngestService(
		auth.NewAuthenticator(registryRepo),
		ratelimit.NewLimiter(redisClient, cfg.RateLimitWindow()),
		idempotency.NewGuard(redisClient, cfg.PendingTTL(), cfg.Retention()).WithSettleWait(cfg.SettleWait()),
		sqsClient,
		service.IngestConfig{
			RateLimitFailOpen:   cfg.RateLimit.FailOpen,
			IdempotencyFailOpen: cfg.Idempotency.FailOpen,
		},
		m,
		log,
	)
	analyticsService := service.NewAnalyticsService(eventRepo, log)

	checker := health.NewChecker(2*time.Second, log).
		Register("queue", sqsClient).
		Register("store", eventRepo).
		Register("registry", registryRepo).
		Register("cache", health.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))

	h := handler.NewHandler(ingestService, analyticsService, checker, auditLogger, m, handler.Options{
		AnalyticsToken: cfg.Analytics.APIToken,
		Gatherer:       registry,
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Service.APIPort),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", zap.String("address", srv.Addr))
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down API server gracefully")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := auditLogger.Close(shutdownCtx); err != nil {
		log.Error("Failed to drain audit log", zap.Error(err))
	}

	log.Info("API server stopped")
}
