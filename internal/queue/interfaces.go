package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

// Message attribute names set on every published event.
const (
	AttributeEventType = "EventType"
	AttributeClientID  = "ClientID"
)

// QueuePublisher publishes accepted events. A nil error means the queue acknowledged the message.
type QueuePublisher interface {
	PublishEvent(ctx context.Context, event *domain.QueuedEvent) error
}

// QueueConsumer pulls and settles messages
type QueueConsumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error)
	QueueURL() string
}

// DeadLetterPublisher forwards undeliverable message bodies to a dead-letter queue.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, body string, attributes map[string]string) error
}
