package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/deadletter"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
)

// ParserStageConfig configures redelivery limits
type ParserStageConfig struct {
	MaxReceiveCount   int
	NackVisibilitySec int32
}

// ParserStage turns SQS messages into envelopes and routes poison messages to the dead-letter sink
type ParserStage struct {
	consumer queue.QueueConsumer
	parser   MessageParser
	sink     deadletter.Sink
	config   ParserStageConfig
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewParserStage creates a new parser stage
func NewParserStage(
	consumer queue.QueueConsumer,
	parser MessageParser,
	sink deadletter.Sink,
	config ParserStageConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *ParserStage {
	return &ParserStage{
		consumer: consumer,
		parser:   parser,
		sink:     sink,
		config:   config,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Start begins parsing messages and outputs envelopes
func (p *ParserStage) Start(ctx context.Context, in <-chan types.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Parser stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				p.log.Info("Parser stage input channel closed")
				return
			}

			envelope := p.parseMessage(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// parseMessage returns nil when the message was settled here instead of being passed on
func (p *ParserStage) parseMessage(ctx context.Context, msg types.Message) *Envelope {
	messageID := aws.ToString(msg.MessageId)
	receiveCount := receiveCount(msg)

	if receiveCount > p.config.MaxReceiveCount {
		p.log.Warn("Message exceeded max receive count",
			zap.String("message_id", messageID),
			zap.Int("receive_count", receiveCount),
			zap.Int("max_receive_count", p.config.MaxReceiveCount))
		p.deadLetter(ctx, msg, deadletter.ReasonMaxReceiveCount, "")
		return nil
	}

	event, err := p.parser.Parse([]byte(aws.ToString(msg.Body)), p.now())
	if err != nil {
		p.log.Warn("Failed to parse message",
			zap.String("message_id", messageID),
			zap.Error(err))
		p.deadLetter(ctx, msg, deadletter.ReasonMalformed, err.Error())
		return nil
	}

	ack := func(ctx context.Context) error {
		return p.deleteMessage(ctx, msg)
	}
	nack := func(ctx context.Context) error {
		return p.releaseMessage(ctx, msg)
	}

	return NewEnvelope(event, messageID, ack, nack)
}

// deadLetter hands the message to the sink and deletes it; if the sink fails the message
// is released instead so it is retried later
func (p *ParserStage) deadLetter(ctx context.Context, msg types.Message, reason, cause string) {
	letter := deadletter.Letter{
		MessageID:    aws.ToString(msg.MessageId),
		Body:         aws.ToString(msg.Body),
		Reason:       reason,
		Error:        cause,
		ReceiveCount: receiveCount(msg),
		FailedAt:     p.now().UTC(),
	}

	if err := p.sink.Send(ctx, letter); err != nil {
		p.log.Error("Failed to dead-letter message, returning it to the queue",
			zap.String("message_id", letter.MessageID),
			zap.String("reason", reason),
			zap.Error(err))
		if err := p.releaseMessage(ctx, msg); err != nil {
			p.log.Error("Failed to release message", zap.String("message_id", letter.MessageID), zap.Error(err))
		}
		return
	}

	p.metrics.ConsumerDeadLettered.WithLabelValues(reason).Inc()

	if err := p.deleteMessage(ctx, msg); err != nil {
		p.log.Error("Failed to delete dead-lettered message",
			zap.String("message_id", letter.MessageID),
			zap.Error(err))
	}
}

func (p *ParserStage) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}

// releaseMessage makes the message visible again after the nack visibility delay
func (p *ParserStage) releaseMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(p.consumer.QueueURL()),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: p.config.NackVisibilitySec,
	})
	return err
}

func receiveCount(msg types.Message) int {
	raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	return count
}
