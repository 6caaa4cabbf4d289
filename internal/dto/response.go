package dto

// Ingestion statuses reported back to the caller.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error      string `json:"error" example:"validation_error"`
	Message    string `json:"message,omitempty" example:"event_type is required"`
	Retryable  bool   `json:"retryable,omitempty" example:"false"`
	RetryAfter int64  `json:"retry_after_sec,omitempty" example:"12"`
}

// PublishEventResponse represents an accepted event; Status tells a new event from a duplicate
type PublishEventResponse struct {
	EventID string `json:"event_id" example:"evt_1a2b3c"`
	Status  string `json:"status" example:"queued"`
}

// BulkEventResult is the outcome of a single event inside a bulk request
type BulkEventResult struct {
	Index   int    `json:"index" example:"0"`
	EventID string `json:"event_id,omitempty" example:"evt_1"`
	Status  string `json:"status" example:"queued"`
	Error   string `json:"error,omitempty" example:"queue publish failed"`
}

// PublishBulkEventsResponse represents a bulk event ingestion response
type PublishBulkEventsResponse struct {
	Accepted   int               `json:"accepted" example:"5"`
	Duplicates int               `json:"duplicates" example:"1"`
	Rejected   int               `json:"rejected" example:"0"`
	Results    []BulkEventResult `json:"results"`
}

// AnalyticsGroupData represents aggregated counts for one combination of group keys
type AnalyticsGroupData struct {
	ClientID     string  `json:"client_id,omitempty" example:"3f0c..."`
	EventType    string  `json:"event_type,omitempty" example:"page_view"`
	Bucket       string  `json:"bucket,omitempty" example:"2025-03-01 12:00:00"`
	Count        uint64  `json:"count" example:"1500"`
	AvgLatencyMs float64 `json:"avg_latency_ms" example:"42.5"`
}

// GetAnalyticsResponse represents the analytics query response
type GetAnalyticsResponse struct {
	From         string               `json:"from" example:"2025-03-01T00:00:00Z"`
	To           string               `json:"to" example:"2025-03-02T00:00:00Z"`
	TotalCount   uint64               `json:"total_count" example:"5000"`
	AvgLatencyMs float64              `json:"avg_latency_ms" example:"40.1"`
	GroupBy      []string             `json:"group_by,omitempty" example:"client_id,event_type"`
	Groups       []AnalyticsGroupData `json:"groups"`
}

// GetCountResponse represents the count of one event type within a range
type GetCountResponse struct {
	EventType string `json:"event_type" example:"page_view"`
	From      string `json:"from,omitempty" example:"2025-03-01T00:00:00Z"`
	To        string `json:"to,omitempty" example:"2025-03-02T00:00:00Z"`
	Count     uint64 `json:"count" example:"1500"`
}

// HealthResponse reports the reachability of each dependency
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks"`
}
