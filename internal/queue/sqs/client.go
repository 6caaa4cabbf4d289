package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/awsutil"
	envConfig "github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
)

// ErrDeadLetterQueueNotConfigured is returned by PublishDeadLetter without SQS_DEAD_LETTER_QUEUE_URL.
var ErrDeadLetterQueueNotConfigured = errors.New("dead-letter queue not configured")

// api is the subset of the SQS client used here.
type api interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Client publishes to and consumes from the event queue
type Client struct {
	api    api
	config envConfig.SQS
	log    *zap.Logger
}

var (
	_ queue.QueuePublisher      = (*Client)(nil)
	_ queue.QueueConsumer       = (*Client)(nil)
	_ queue.DeadLetterPublisher = (*Client)(nil)
)

// NewClient creates a new SQS client. SQS_ENDPOINT points it at a local ElasticMQ.
func NewClient(ctx context.Context, sqsConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	awsConfig, err := awsutil.LoadConfig(ctx, sqsConfig.Region, sqsConfig.Endpoint, log)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*sqs.Options)
	if sqsConfig.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(sqsConfig.Endpoint)
		})
	}

	log.Info("SQS client created",
		zap.String("region", sqsConfig.Region),
		zap.String("queue_url", sqsConfig.QueueURL),
		zap.Bool("dead_letter_queue", sqsConfig.DeadLetterQueueURL != ""))

	return newClient(sqs.NewFromConfig(awsConfig, clientOpts...), sqsConfig, log), nil
}

func newClient(api api, sqsConfig envConfig.SQS, log *zap.Logger) *Client {
	return &Client{api: api, config: sqsConfig, log: log}
}

// ReceiveMessages receives messages from SQS
func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.api.ReceiveMessage(ctx, input)
}

// DeleteMessage acknowledges a message
func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.api.DeleteMessage(ctx, input)
}

// ChangeMessageVisibility shortens or extends a message's invisibility, used as a negative acknowledgment
func (c *Client) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {
	return c.api.ChangeMessageVisibility(ctx, input)
}

// QueueURL returns the configured queue URL
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// Ping verifies the queue is reachable by reading its attributes
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ApproximateDepth(ctx)
	return err
}

// ApproximateDepth returns the approximate number of visible messages.
func (c *Client) ApproximateDepth(ctx context.Context) (int, error) {
	out, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if raw == "" {
		return 0, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid queue depth %q: %w", raw, err)
	}
	return depth, nil
}

// PublishEvent publishes an accepted event to SQS
func (c *Client) PublishEvent(ctx context.Context, event *domain.QueuedEvent) error {
	bodyJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			queue.AttributeEventType: stringAttribute(event.EventType),
			queue.AttributeClientID:  stringAttribute(event.ClientID),
		},
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("client_id", event.ClientID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Debug("Event published to SQS",
		zap.String("client_id", event.ClientID),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType))

	return nil
}

// PublishDeadLetter sends a raw message body to the dead-letter queue
func (c *Client) PublishDeadLetter(ctx context.Context, body string, attributes map[string]string) error {
	if c.config.DeadLetterQueueURL == "" {
		return ErrDeadLetterQueueNotConfigured
	}

	attrs := make(map[string]types.MessageAttributeValue, len(attributes))
	for name, value := range attributes {
		if value == "" {
			continue
		}
		attrs[name] = stringAttribute(value)
	}

	_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.config.DeadLetterQueueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to dead-letter queue: %w", err)
	}
	return nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}
