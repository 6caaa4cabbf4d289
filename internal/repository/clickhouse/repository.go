package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

// Repository implements EventRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

var _ repository.EventRepository = (*Repository)(nil)

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema initializes the ClickHouse schema.
// ReplacingMergeTree ordered by (client_id, event_id) collapses redelivered writes of the same
// event; skip indexes on processed_at and event_type serve time-range and per-type scans.
func (r *Repository) InitSchema(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, createEventsTableQuery); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch writes events whose key is not stored yet. Keys already present (a redelivered
// message, or a second consumer racing on the same key) are skipped, making the write an
// upsert with no-op on conflict.
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.Event) (int, int, error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	existing, err := r.existingKeys(ctx, events)
	if err != nil {
		return 0, 0, err
	}

	pending := make([]*domain.Event, 0, len(events))
	seen := make(map[domain.EventKey]struct{}, len(events))
	for _, event := range events {
		key := event.Key()
		if _, ok := existing[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, event)
	}

	skipped := len(events) - len(pending)
	if len(pending) == 0 {
		return 0, skipped, nil
	}

	if err := r.writeBatch(ctx, pending); err != nil {
		return 0, 0, err
	}

	return len(pending), skipped, nil
}

// writeBatch appends events as new rows without checking for stored keys.
func (r *Repository) writeBatch(ctx context.Context, events []*domain.Event) error {
	batch, err := r.client.Conn().PrepareBatch(ctx, insertEventsQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, event := range events {
		if event.Version == 0 {
			event.Version = domain.FirstWriteVersion(event.ProcessedAt)
		}

		payload := event.Payload
		if payload == "" {
			payload = "{}"
		}

		if err := batch.Append(
			event.ClientID,
			event.EventID,
			event.EventType,
			payload,
			event.SubmittedAt,
			event.IngestedAt,
			event.ProcessedAt,
			event.LatencyMs,
			event.Status,
			event.Version,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// existingKeys returns the keys from events that are already stored.
func (r *Repository) existingKeys(ctx context.Context, events []*domain.Event) (map[domain.EventKey]struct{}, error) {
	existing := make(map[domain.EventKey]struct{})

	for clientID, eventIDs := range groupEventIDsByClient(events) {
		rows, err := r.client.Conn().Query(ctx, existingKeysQuery, clientID, eventIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing events: %w", err)
		}

		for rows.Next() {
			var eventID string
			if err := rows.Scan(&eventID); err != nil {
				r.closeRows(rows)
				return nil, fmt.Errorf("failed to scan existing event: %w", err)
			}
			existing[domain.EventKey{ClientID: clientID, EventID: eventID}] = struct{}{}
		}

		err = rows.Err()
		r.closeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("error iterating existing events: %w", err)
		}
	}

	return existing, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// GetAnalytics retrieves aggregated counts from ClickHouse
func (r *Repository) GetAnalytics(ctx context.Context, query repository.AnalyticsQuery) (*repository.AnalyticsResult, error) {
	stmt, err := buildAnalyticsStatement(query)
	if err != nil {
		return nil, err
	}

	result := &repository.AnalyticsResult{
		Groups: []repository.AnalyticsGroupResult{},
	}

	row := r.client.Conn().QueryRow(ctx, stmt.totals, stmt.args...)
	if err := row.Scan(&result.TotalCount, &result.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("failed to query overall analytics: %w", err)
	}

	if stmt.grouped == "" {
		return result, nil
	}

	rows, err := r.client.Conn().Query(ctx, stmt.grouped, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped analytics: %w", err)
	}
	defer r.closeRows(rows)

	for rows.Next() {
		var group repository.AnalyticsGroupResult
		if err := rows.Scan(stmt.scanTargets(&group)...); err != nil {
			return nil, fmt.Errorf("failed to scan grouped analytics row: %w", err)
		}
		result.Groups = append(result.Groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped analytics rows: %w", err)
	}

	return result, nil
}

// CountEvents counts processed events of one type in [from, to). A zero bound is left open.
func (r *Repository) CountEvents(ctx context.Context, eventType string, from, to time.Time) (uint64, error) {
	var count uint64
	query, args := buildCountStatement(eventType, from, to)
	row := r.client.Conn().QueryRow(ctx, query, args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (r *Repository) closeRows(rows driver.Rows) {
	if err := rows.Close(); err != nil {
		r.log.Error("Failed to close rows", zap.Error(err))
	}
}
