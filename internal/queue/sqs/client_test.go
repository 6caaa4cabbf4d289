package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
}

func (m *MockAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockAPI) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockAPI) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ChangeMessageVisibilityOutput), args.Error(1)
}

func (m *MockAPI) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueAttributesOutput), args.Error(1)
}

var testConfig = envConfig.SQS{
	QueueURL:           "http://localhost:9324/000000000000/events",
	DeadLetterQueueURL: "http://localhost:9324/000000000000/events-dlq",
	Region:             "eu-central-1",
}

func TestPublishEvent(t *testing.T) {
	api := new(MockAPI)
	client := newClient(api, testConfig, zap.NewNop())

	event := &domain.QueuedEvent{
		ClientID:   "client-a",
		EventID:    "e1",
		EventType:  "purchase",
		Payload:    json.RawMessage(`{"amount":10}`),
		IngestedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		var decoded domain.QueuedEvent
		if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &decoded); err != nil {
			return false
		}
		return aws.ToString(in.QueueUrl) == testConfig.QueueURL &&
			decoded.EventID == "e1" &&
			decoded.ClientID == "client-a" &&
			aws.ToString(in.MessageAttributes["EventType"].StringValue) == "purchase" &&
			aws.ToString(in.MessageAttributes["ClientID"].StringValue) == "client-a"
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil)

	require.NoError(t, client.PublishEvent(context.Background(), event))
	api.AssertExpectations(t)
}

func TestPublishEvent_SendFailure(t *testing.T) {
	api := new(MockAPI)
	client := newClient(api, testConfig, zap.NewNop())

	api.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	err := client.PublishEvent(context.Background(), &domain.QueuedEvent{ClientID: "c", EventID: "e", EventType: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestPublishDeadLetter(t *testing.T) {
	api := new(MockAPI)
	client := newClient(api, testConfig, zap.NewNop())

	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		_, hasEmpty := in.MessageAttributes["Empty"]
		return aws.ToString(in.QueueUrl) == testConfig.DeadLetterQueueURL &&
			aws.ToString(in.MessageBody) == "{bad" &&
			aws.ToString(in.MessageAttributes["Reason"].StringValue) == "malformed" &&
			!hasEmpty
	})).Return(&sqs.SendMessageOutput{}, nil)

	err := client.PublishDeadLetter(context.Background(), "{bad", map[string]string{"Reason": "malformed", "Empty": ""})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestPublishDeadLetter_NotConfigured(t *testing.T) {
	api := new(MockAPI)
	cfg := testConfig
	cfg.DeadLetterQueueURL = ""
	client := newClient(api, cfg, zap.NewNop())

	err := client.PublishDeadLetter(context.Background(), "body", nil)
	assert.ErrorIs(t, err, ErrDeadLetterQueueNotConfigured)
	api.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestApproximateDepth(t *testing.T) {
	api := new(MockAPI)
	client := newClient(api, testConfig, zap.NewNop())

	api.On("GetQueueAttributes", mock.Anything, mock.Anything).Return(&sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{string(types.QueueAttributeNameApproximateNumberOfMessages): "42"},
	}, nil)

	depth, err := client.ApproximateDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, depth)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	api := new(MockAPI)
	client := newClient(api, testConfig, zap.NewNop())

	api.On("GetQueueAttributes", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	assert.Error(t, client.Ping(context.Background()))
}
