package clickhouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const insertEventsQuery = `INSERT INTO events (
	client_id, event_id, event_type, payload,
	submitted_at, ingested_at, processed_at, latency_ms, status, version
)`

const existingKeysQuery = `
	SELECT DISTINCT event_id
	FROM events
	WHERE client_id = ? AND has(?, event_id)
`

// createEventsTableQuery creates the events table. ReplacingMergeTree only collapses rows
// within one partition, so the partition key is derived from the sorting key and every
// write of a (client_id, event_id) pair lands in the same partition. Time range scans are
// served by the processed_at skip index instead of partition pruning.
const createEventsTableQuery = `
	CREATE TABLE IF NOT EXISTS events (
		client_id String,
		event_id String,
		event_type LowCardinality(String),
		payload String,
		submitted_at DateTime64(3, 'UTC'),
		ingested_at DateTime64(3, 'UTC'),
		processed_at DateTime64(3, 'UTC'),
		latency_ms Int64,
		status LowCardinality(String),
		version UInt64,
		INDEX idx_processed_at processed_at TYPE minmax GRANULARITY 4,
		INDEX idx_event_type event_type TYPE set(0) GRANULARITY 4
	) ENGINE = ReplacingMergeTree(version)
	PARTITION BY cityHash64(client_id) % 16
	ORDER BY (client_id, event_id)
	SETTINGS index_granularity = 8192
`

// buildCountStatement counts one event type over [from, to). A zero bound is left open.
func buildCountStatement(eventType string, from, to time.Time) (string, []any) {
	conditions := []string{"event_type = ?"}
	args := []any{eventType}

	if !from.IsZero() {
		conditions = append(conditions, "processed_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conditions = append(conditions, "processed_at < ?")
		args = append(args, to.UTC())
	}

	return "SELECT count() FROM events FINAL WHERE " + strings.Join(conditions, " AND "), args
}

// dimension describes how one group_by value is selected and ordered.
type dimension struct {
	name   string
	alias  string
	expr   string
	bucket bool
}

var dimensions = map[string]dimension{
	repository.GroupByClientID:  {name: repository.GroupByClientID, alias: "client_id", expr: "client_id"},
	repository.GroupByEventType: {name: repository.GroupByEventType, alias: "event_type", expr: "event_type"},
	repository.GroupByHour: {
		name:   repository.GroupByHour,
		alias:  "bucket",
		expr:   "formatDateTime(toStartOfHour(processed_at), '%Y-%m-%d %H:00:00')",
		bucket: true,
	},
	repository.GroupByDay: {
		name:   repository.GroupByDay,
		alias:  "bucket",
		expr:   "formatDateTime(toStartOfDay(processed_at), '%Y-%m-%d')",
		bucket: true,
	},
}

// analyticsStatement is a compiled analytics query: an ungrouped totals query, an optional
// grouped query sharing the same arguments, and the dimensions in select order.
type analyticsStatement struct {
	totals  string
	grouped string
	args    []any
	dims    []dimension
}

// scanTargets returns the destinations for one grouped row in select order.
func (s *analyticsStatement) scanTargets(group *repository.AnalyticsGroupResult) []any {
	targets := make([]any, 0, len(s.dims)+2)
	for _, d := range s.dims {
		switch {
		case d.bucket:
			targets = append(targets, &group.Bucket)
		case d.name == repository.GroupByClientID:
			targets = append(targets, &group.ClientID)
		case d.name == repository.GroupByEventType:
			targets = append(targets, &group.EventType)
		}
	}
	return append(targets, &group.Count, &group.AvgLatencyMs)
}

func buildAnalyticsStatement(query repository.AnalyticsQuery) (*analyticsStatement, error) {
	if !query.From.Before(query.To) {
		return nil, fmt.Errorf("invalid time range: from must be before to")
	}

	conditions := []string{"processed_at >= ?", "processed_at < ?"}
	args := []any{query.From.UTC(), query.To.UTC()}

	if query.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, query.ClientID)
	}
	if query.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, query.EventType)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	stmt := &analyticsStatement{
		totals: fmt.Sprintf(`
		SELECT
			count() AS total_count,
			ifNotFinite(avg(latency_ms), 0) AS avg_latency_ms
		FROM events FINAL
		%s
	`, where),
		args: args,
	}

	if len(query.GroupBy) == 0 {
		return stmt, nil
	}

	dims, err := resolveDimensions(query.GroupBy)
	if err != nil {
		return nil, err
	}
	stmt.dims = dims

	selects := make([]string, 0, len(dims))
	groupBy := make([]string, 0, len(dims))
	orderBy := make([]string, 0, len(dims)+1)
	for _, d := range dims {
		selects = append(selects, fmt.Sprintf("%s AS %s", d.expr, d.alias))
		groupBy = append(groupBy, d.alias)
		if d.bucket {
			orderBy = append(orderBy, d.alias+" ASC")
		}
	}
	orderBy = append(orderBy, "total_count DESC")
	for _, d := range dims {
		if !d.bucket {
			orderBy = append(orderBy, d.alias+" ASC")
		}
	}

	stmt.grouped = fmt.Sprintf(`
		SELECT
			%s,
			count() AS total_count,
			ifNotFinite(avg(latency_ms), 0) AS avg_latency_ms
		FROM events FINAL
		%s
		GROUP BY %s
		ORDER BY %s
	`, strings.Join(selects, ",\n\t\t\t"), where, strings.Join(groupBy, ", "), strings.Join(orderBy, ", "))

	return stmt, nil
}

func resolveDimensions(groupBy []string) ([]dimension, error) {
	dims := make([]dimension, 0, len(groupBy))
	seen := make(map[string]bool, len(groupBy))
	buckets := 0

	for _, name := range groupBy {
		d, ok := dimensions[name]
		if !ok {
			return nil, fmt.Errorf("unsupported group_by value: %s (supported: client_id, event_type, hour, day)", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if d.bucket {
			buckets++
		}
		dims = append(dims, d)
	}

	if buckets > 1 {
		return nil, fmt.Errorf("group_by accepts only one of hour, day")
	}

	return dims, nil
}

func groupEventIDsByClient(events []*domain.Event) map[string][]string {
	grouped := make(map[string][]string)
	for _, event := range events {
		grouped[event.ClientID] = append(grouped[event.ClientID], event.EventID)
	}
	return grouped
}
