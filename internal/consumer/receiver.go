package consumer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
)

const (
	initialReceiveBackoff = time.Second
	maxReceiveBackoff     = 30 * time.Second
)

// ReceiverConfig configures the SQS receiver
type ReceiverConfig struct {
	MaxMessages     int32
	WaitTimeSeconds int32
}

// Receiver long-polls SQS and forwards messages downstream
type Receiver struct {
	consumer queue.QueueConsumer
	config   ReceiverConfig
	log      *zap.Logger
	backoff  time.Duration
}

// NewReceiver creates a new SQS receiver
func NewReceiver(consumer queue.QueueConsumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
		backoff:  initialReceiveBackoff,
	}
}

// Start begins receiving messages and sends them to the output channel. Receive errors
// back off exponentially up to maxReceiveBackoff.
func (r *Receiver) Start(ctx context.Context, out chan<- types.Message) {
	defer close(out)

	backoff := r.backoff
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down")
			return
		default:
		}

		result, err := r.consumer.ReceiveMessages(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(r.consumer.QueueURL()),
			MaxNumberOfMessages:         r.config.MaxMessages,
			WaitTimeSeconds:             r.config.WaitTimeSeconds,
			MessageAttributeNames:       []string{"All"},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Receiver shutting down")
				return
			}
			r.log.Error("Error receiving messages from SQS", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = r.backoff

		if len(result.Messages) == 0 {
			continue
		}

		r.log.Debug("Received messages from SQS", zap.Int("message_count", len(result.Messages)))

		for _, msg := range result.Messages {
			select {
			case <-ctx.Done():
				r.log.Info("Receiver shutting down while sending messages")
				return
			case out <- msg:
			}
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
