package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

// ErrMalformedMessage marks a body that can never be processed, however often it is redelivered.
var ErrMalformedMessage = errors.New("malformed message")

// JSONEventParser implements MessageParser for JSON-encoded queued events
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse decodes a queued event and enriches it with processing time and latency
func (p *JSONEventParser) Parse(body []byte, processedAt time.Time) (*domain.Event, error) {
	var queued domain.QueuedEvent
	if err := json.Unmarshal(body, &queued); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case queued.ClientID == "":
		return nil, fmt.Errorf("%w: missing client_id", ErrMalformedMessage)
	case queued.EventID == "":
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedMessage)
	case queued.EventType == "":
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedMessage)
	case queued.IngestedAt.IsZero():
		return nil, fmt.Errorf("%w: missing ingested_at", ErrMalformedMessage)
	}

	if len(queued.Payload) > 0 && !json.Valid(queued.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedMessage)
	}

	return domain.Enrich(&queued, processedAt), nil
}
