package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/idempotency"
	"github.com/BarkinBalci/event-ingestion-service/internal/ratelimit"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, apiKey string) (*domain.Client, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

// MockRateLimiter is a mock implementation of RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, clientID string, limit int) (ratelimit.Decision, error) {
	args := m.Called(ctx, clientID, limit)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockRateLimiter) Refund(ctx context.Context, clientID string, decision ratelimit.Decision) error {
	args := m.Called(ctx, clientID, decision)
	return args.Error(0)
}

// MockGuard is a mock implementation of IdempotencyGuard
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Reserve(ctx context.Context, clientID, eventID string) (idempotency.Reservation, error) {
	args := m.Called(ctx, clientID, eventID)
	return args.Get(0).(idempotency.Reservation), args.Error(1)
}

func (m *MockGuard) Commit(ctx context.Context, reservation idempotency.Reservation) error {
	args := m.Called(ctx, reservation)
	return args.Error(0)
}

func (m *MockGuard) Release(ctx context.Context, reservation idempotency.Reservation) error {
	args := m.Called(ctx, reservation)
	return args.Error(0)
}

// MockQueuePublisher is a mock implementation of queue.QueuePublisher
type MockQueuePublisher struct {
	mock.Mock
}

func (m *MockQueuePublisher) PublishEvent(ctx context.Context, event *domain.QueuedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockAnalyticsStore is a mock implementation of AnalyticsStore
type MockAnalyticsStore struct {
	mock.Mock
}

func (m *MockAnalyticsStore) GetAnalytics(ctx context.Context, query repository.AnalyticsQuery) (*repository.AnalyticsResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.AnalyticsResult), args.Error(1)
}

func (m *MockAnalyticsStore) CountEvents(ctx context.Context, eventType string, from, to time.Time) (uint64, error) {
	args := m.Called(ctx, eventType, from, to)
	return args.Get(0).(uint64), args.Error(1)
}
