package dto

import "encoding/json"

// PublishEventRequest represents a publish event request
type PublishEventRequest struct {
	EventID   string          `json:"event_id" binding:"omitempty,max=128" example:"evt_1a2b3c"`
	EventType string          `json:"event_type" binding:"required,max=128" example:"page_view"`
	Payload   json.RawMessage `json:"payload" swaggertype:"object" example:"path:/home"`
	Timestamp string          `json:"timestamp" binding:"omitempty" example:"2025-03-01T12:00:00Z"`

	// IdempotencyKey is filled from the Idempotency-Key header, never from the body.
	IdempotencyKey string `json:"-"`
}

// PublishEventsBulkRequest represents a publish bulk event request
type PublishEventsBulkRequest struct {
	Events []PublishEventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// GetAnalyticsRequest represents an analytics query request
type GetAnalyticsRequest struct {
	From      string `form:"from" binding:"required" example:"2025-03-01T00:00:00Z"`
	To        string `form:"to" binding:"required" example:"2025-03-02T00:00:00Z"`
	GroupBy   string `form:"group_by" example:"client_id,event_type"`
	ClientID  string `form:"client_id" example:"3f0c..."`
	EventType string `form:"event_type" example:"page_view"`
}

// GetCountRequest represents a single event type count request. A missing bound leaves
// that side of the range open.
type GetCountRequest struct {
	EventType string `form:"event_type" binding:"required" example:"page_view"`
	From      string `form:"from" example:"2025-03-01T00:00:00Z"`
	To        string `form:"to" example:"2025-03-02T00:00:00Z"`
}
