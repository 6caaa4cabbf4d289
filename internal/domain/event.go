package domain

import (
	"encoding/json"
	"math"
	"time"
)

// StatusProcessed marks a row written by the consumer.
const StatusProcessed = "processed"

// QueuedEvent is the message body carried on the queue between ingestion and the consumer
type QueuedEvent struct {
	ClientID    string          `json:"client_id"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt time.Time       `json:"submitted_at"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// Key returns the (client_id, event_id) pair identifying the event.
func (e *QueuedEvent) Key() EventKey {
	return EventKey{ClientID: e.ClientID, EventID: e.EventID}
}

// Event represents a processed event stored in ClickHouse
type Event struct {
	ClientID    string    `ch:"client_id"`
	EventID     string    `ch:"event_id"`
	EventType   string    `ch:"event_type"`
	Payload     string    `ch:"payload"`
	SubmittedAt time.Time `ch:"submitted_at"`
	IngestedAt  time.Time `ch:"ingested_at"`
	ProcessedAt time.Time `ch:"processed_at"`
	LatencyMs   int64     `ch:"latency_ms"`
	Status      string    `ch:"status"`
	Version     uint64    `ch:"version"`
}

// Key returns the (client_id, event_id) pair identifying the event.
func (e *Event) Key() EventKey {
	return EventKey{ClientID: e.ClientID, EventID: e.EventID}
}

// EventKey is the uniqueness key of a processed event.
type EventKey struct {
	ClientID string
	EventID  string
}

// Enrich turns a queued event into a processed row stamped at processedAt.
// Latency is measured from enqueue time and never negative.
func Enrich(q *QueuedEvent, processedAt time.Time) *Event {
	payload := string(q.Payload)
	if payload == "" || payload == "null" {
		payload = "{}"
	}

	latency := processedAt.Sub(q.IngestedAt).Milliseconds()
	if latency < 0 {
		latency = 0
	}

	submittedAt := q.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = q.IngestedAt
	}

	return &Event{
		ClientID:    q.ClientID,
		EventID:     q.EventID,
		EventType:   q.EventType,
		Payload:     payload,
		SubmittedAt: submittedAt.UTC(),
		IngestedAt:  q.IngestedAt.UTC(),
		ProcessedAt: processedAt.UTC(),
		LatencyMs:   latency,
		Status:      StatusProcessed,
		Version:     FirstWriteVersion(processedAt),
	}
}

// FirstWriteVersion derives a ReplacingMergeTree version that decreases over time, so when
// two writes of the same key race the earliest processed row is the one that survives merges.
func FirstWriteVersion(processedAt time.Time) uint64 {
	return math.MaxUint64 - uint64(processedAt.UnixNano())
}
