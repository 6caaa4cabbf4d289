package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
)

// Reasons a message is dead-lettered.
const (
	ReasonMalformed       = "malformed"
	ReasonMaxReceiveCount = "max_receive_count"
)

// Letter is an undeliverable queue message together with why it was given up on.
type Letter struct {
	MessageID    string    `json:"message_id"`
	Body         string    `json:"body"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	ReceiveCount int       `json:"receive_count"`
	FailedAt     time.Time `json:"failed_at"`
}

// Sink stores letters. A nil error means the letter is safe and the source message may be deleted.
type Sink interface {
	Send(ctx context.Context, letter Letter) error
}

// QueueSink forwards letters to the SQS dead-letter queue, keeping the original body intact.
type QueueSink struct {
	publisher queue.DeadLetterPublisher
}

// NewQueueSink creates a sink backed by a dead-letter queue.
func NewQueueSink(publisher queue.DeadLetterPublisher) *QueueSink {
	return &QueueSink{publisher: publisher}
}

// Send publishes the letter body with its metadata as message attributes.
func (s *QueueSink) Send(ctx context.Context, letter Letter) error {
	attributes := map[string]string{
		"Reason":          letter.Reason,
		"Error":           letter.Error,
		"SourceMessageId": letter.MessageID,
		"ReceiveCount":    strconv.Itoa(letter.ReceiveCount),
		"FailedAt":        letter.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.publisher.PublishDeadLetter(ctx, letter.Body, attributes); err != nil {
		return fmt.Errorf("queue sink: %w", err)
	}
	return nil
}

// Fanout sends every letter to all sinks and fails if any of them fails.
type Fanout []Sink

// Send delivers to each sink in order.
func (f Fanout) Send(ctx context.Context, letter Letter) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Send(ctx, letter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink only logs letters. It is used when no queue or bucket is configured, so the
// source message is dropped after being logged.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that writes letters to log.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

// Send logs the letter.
func (s *LogSink) Send(_ context.Context, letter Letter) error {
	s.log.Error("Dropping undeliverable message",
		zap.String("message_id", letter.MessageID),
		zap.String("reason", letter.Reason),
		zap.String("error", letter.Error),
		zap.Int("receive_count", letter.ReceiveCount),
		zap.String("body", letter.Body))
	return nil
}
