package consumer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/event-ingestion-service/internal/deadletter"
	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const testQueueURL = "https://sqs.eu-central-1.amazonaws.com/123/test-queue"

var testIngestedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockQueueConsumer is a mock implementation of queue.QueueConsumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ChangeMessageVisibilityOutput), args.Error(1)
}

func (m *MockQueueConsumer) QueueURL() string {
	args := m.Called()
	return args.String(0)
}

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) (int, int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventRepository) Close() error {
	return m.Called().Error(0)
}

func (m *MockEventRepository) GetAnalytics(ctx context.Context, query repository.AnalyticsQuery) (*repository.AnalyticsResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.AnalyticsResult), args.Error(1)
}

func (m *MockEventRepository) CountEvents(ctx context.Context, eventType string, from, to time.Time) (uint64, error) {
	args := m.Called(ctx, eventType, from, to)
	return args.Get(0).(uint64), args.Error(1)
}

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte, processedAt time.Time) (*domain.Event, error) {
	args := m.Called(body, processedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

// MockSink is a mock implementation of deadletter.Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Send(ctx context.Context, letter deadletter.Letter) error {
	return m.Called(ctx, letter).Error(0)
}

// simulateLongPoll keeps empty receives from spinning
func simulateLongPoll(mock.Arguments) {
	time.Sleep(5 * time.Millisecond)
}

func queuedBody(clientID, eventID string) string {
	return `{"client_id":"` + clientID + `","event_id":"` + eventID +
		`","event_type":"click","payload":{"x":1},"ingested_at":"2024-03-01T12:00:00Z"}`
}
