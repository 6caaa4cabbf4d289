package service

import (
	"context"
	"time"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/idempotency"
	"github.com/BarkinBalci/event-ingestion-service/internal/ratelimit"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

// Authenticator resolves an API key to an active client
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*domain.Client, error)
}

// RateLimiter admits requests per client
type RateLimiter interface {
	Allow(ctx context.Context, clientID string, limit int) (ratelimit.Decision, error)
	Refund(ctx context.Context, clientID string, decision ratelimit.Decision) error
}

// IdempotencyGuard reserves and settles (client_id, event_id) keys
type IdempotencyGuard interface {
	Reserve(ctx context.Context, clientID, eventID string) (idempotency.Reservation, error)
	Commit(ctx context.Context, reservation idempotency.Reservation) error
	Release(ctx context.Context, reservation idempotency.Reservation) error
}

// AnalyticsStore answers aggregate queries over processed events
type AnalyticsStore interface {
	GetAnalytics(ctx context.Context, query repository.AnalyticsQuery) (*repository.AnalyticsResult, error)
	CountEvents(ctx context.Context, eventType string, from, to time.Time) (uint64, error)
}

// Ingester defines the ingestion operations used by the HTTP layer
type Ingester interface {
	Ingest(ctx context.Context, apiKey string, req *dto.PublishEventRequest) (*IngestResult, error)
	IngestBulk(ctx context.Context, apiKey string, reqs []dto.PublishEventRequest) (*BulkIngestResult, error)
}

// Analyzer defines the analytics operations used by the HTTP layer
type Analyzer interface {
	GetAnalytics(ctx context.Context, req *dto.GetAnalyticsRequest) (*dto.GetAnalyticsResponse, error)
	CountEvents(ctx context.Context, req *dto.GetCountRequest) (*dto.GetCountResponse, error)
}
