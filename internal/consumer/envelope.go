package consumer

import (
	"context"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

// Envelope carries an enriched event together with the settlement callbacks of the queue
// message it came from
type Envelope struct {
	Event     *domain.Event
	MessageID string
	ack       func(context.Context) error
	nack      func(context.Context) error
}

// NewEnvelope creates a new message envelope
func NewEnvelope(event *domain.Event, messageID string, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		Event:     event,
		MessageID: messageID,
		ack:       ack,
		nack:      nack,
	}
}

// Ack deletes the source message. Call only after the event is durably stored.
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack != nil {
		return e.ack(ctx)
	}
	return nil
}

// Nack returns the source message to the queue for redelivery
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack != nil {
		return e.nack(ctx)
	}
	return nil
}
