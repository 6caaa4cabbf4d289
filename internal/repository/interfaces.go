package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a unique constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
)

// Grouping dimensions accepted by analytics queries.
const (
	GroupByClientID  = "client_id"
	GroupByEventType = "event_type"
	GroupByHour      = "hour"
	GroupByDay       = "day"
)

// AnalyticsQuery represents analytics query parameters over the half-open range [From, To)
type AnalyticsQuery struct {
	From      time.Time
	To        time.Time
	ClientID  string
	EventType string
	GroupBy   []string
}

// AnalyticsGroupResult represents aggregated metrics for a specific group
type AnalyticsGroupResult struct {
	ClientID     string
	EventType    string
	Bucket       string
	Count        uint64
	AvgLatencyMs float64
}

// AnalyticsResult represents the result of an analytics query
type AnalyticsResult struct {
	TotalCount   uint64
	AvgLatencyMs float64
	Groups       []AnalyticsGroupResult
}

// EventRepository defines the interface for processed event storage operations
type EventRepository interface {
	// InsertBatch stores events whose (client_id, event_id) is not stored yet.
	// It returns how many rows were written and how many were skipped as already present.
	InsertBatch(ctx context.Context, events []*domain.Event) (inserted int, skipped int, err error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error

	// GetAnalytics retrieves aggregated counts based on the query
	GetAnalytics(ctx context.Context, query AnalyticsQuery) (*AnalyticsResult, error)

	// CountEvents counts processed events of one type in [from, to); a zero bound is left open
	CountEvents(ctx context.Context, eventType string, from, to time.Time) (uint64, error)
}

// ClientRepository is the client registry
type ClientRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Client, error)
	GetByID(ctx context.Context, id string) (*domain.Client, error)
	List(ctx context.Context) ([]domain.Client, error)
	Create(ctx context.Context, client *domain.Client) error
	SetActive(ctx context.Context, id string, active bool) error
	Ping(ctx context.Context) error
}

// AuditRepository appends audit log entries
type AuditRepository interface {
	InsertAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error
}
