package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/auth"
	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/idempotency"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
	"github.com/BarkinBalci/event-ingestion-service/internal/ratelimit"
)

const (
	defaultMaxClockSkew   = time.Minute
	defaultReleaseTimeout = 2 * time.Second
)

// IngestConfig controls admission behaviour when Redis is unreachable
type IngestConfig struct {
	RateLimitFailOpen   bool
	IdempotencyFailOpen bool
	// MaxClockSkew is how far in the future a client timestamp may be.
	MaxClockSkew   time.Duration
	ReleaseTimeout time.Duration
}

// IngestResult is the outcome of a single accepted submission
type IngestResult struct {
	ClientID  string
	Response  dto.PublishEventResponse
	RateLimit ratelimit.Decision
}

// BulkIngestResult is the outcome of a bulk submission
type BulkIngestResult struct {
	ClientID  string
	Response  dto.PublishBulkEventsResponse
	RateLimit ratelimit.Decision
}

// IngestService authenticates, admits, deduplicates and enqueues events
type IngestService struct {
	auth      Authenticator
	limiter   RateLimiter
	guard     IdempotencyGuard
	publisher queue.QueuePublisher
	config    IngestConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewIngestService creates a new ingestion service
func NewIngestService(
	authenticator Authenticator,
	limiter RateLimiter,
	guard IdempotencyGuard,
	publisher queue.QueuePublisher,
	config IngestConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *IngestService {
	if config.MaxClockSkew <= 0 {
		config.MaxClockSkew = defaultMaxClockSkew
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = defaultReleaseTimeout
	}

	return &IngestService{
		auth:      authenticator,
		limiter:   limiter,
		guard:     guard,
		publisher: publisher,
		config:    config,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Ingest accepts one event. A duplicate is a successful outcome reported through the
// response status. On error the result is still returned once the client is known.
func (s *IngestService) Ingest(ctx context.Context, apiKey string, req *dto.PublishEventRequest) (*IngestResult, error) {
	client, decision, err := s.admit(ctx, apiKey)
	if client == nil {
		return nil, err
	}

	result := &IngestResult{ClientID: client.ID, RateLimit: decision}
	if err != nil {
		return result, err
	}

	eventID, status, err := s.ingestOne(ctx, client, req)
	if err != nil {
		return result, err
	}

	if status == dto.StatusDuplicate {
		s.refund(ctx, client, &result.RateLimit)
	}

	result.Response = dto.PublishEventResponse{EventID: eventID, Status: status}
	return result, nil
}

// IngestBulk admits the request once and then ingests every event independently.
func (s *IngestService) IngestBulk(ctx context.Context, apiKey string, reqs []dto.PublishEventRequest) (*BulkIngestResult, error) {
	client, decision, err := s.admit(ctx, apiKey)
	if client == nil {
		return nil, err
	}

	result := &BulkIngestResult{
		ClientID:  client.ID,
		RateLimit: decision,
		Response: dto.PublishBulkEventsResponse{
			Results: make([]dto.BulkEventResult, 0, len(reqs)),
		},
	}
	if err != nil {
		return result, err
	}

	for i := range reqs {
		eventID, status, err := s.ingestOne(ctx, client, &reqs[i])
		entry := dto.BulkEventResult{Index: i, EventID: eventID, Status: status}

		switch {
		case err != nil:
			entry.Status = dto.StatusFailed
			entry.Error = err.Error()
			result.Response.Rejected++
			s.log.Warn("Failed to ingest event in bulk",
				zap.Int("index", i),
				zap.String("client_id", client.ID),
				zap.Error(err))
		case status == dto.StatusDuplicate:
			result.Response.Duplicates++
		default:
			result.Response.Accepted++
		}

		result.Response.Results = append(result.Response.Results, entry)
	}

	return result, nil
}

// admit authenticates the key and consumes one unit of the client's rate limit.
// The client is returned whenever authentication succeeded, even if admission did not.
func (s *IngestService) admit(ctx context.Context, apiKey string) (*domain.Client, ratelimit.Decision, error) {
	client, err := s.auth.Authenticate(ctx, apiKey)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			s.reject("unauthenticated")
			return nil, ratelimit.Decision{}, err
		case errors.Is(err, auth.ErrForbidden):
			s.reject("forbidden")
			return nil, ratelimit.Decision{}, err
		default:
			s.reject("unavailable")
			s.log.Error("Client registry lookup failed", zap.Error(err))
			return nil, ratelimit.Decision{}, unavailable("client registry", err)
		}
	}

	decision, err := s.limiter.Allow(ctx, client.ID, client.RateLimit)
	if err == nil {
		return client, decision, nil
	}

	if errors.Is(err, ratelimit.ErrRateLimited) {
		s.reject("rate_limited")
		return client, decision, err
	}

	if !s.config.RateLimitFailOpen {
		s.reject("unavailable")
		s.log.Error("Rate limiter unavailable", zap.String("client_id", client.ID), zap.Error(err))
		return client, ratelimit.Decision{}, unavailable("rate limiter", err)
	}

	s.metrics.DependencyFailOpen.WithLabelValues("rate_limiter").Inc()
	s.log.Warn("Rate limiter unavailable, admitting request",
		zap.String("client_id", client.ID),
		zap.Error(err))
	return client, ratelimit.Decision{Allowed: true, Limit: client.RateLimit, Remaining: -1}, nil
}

// refund returns the admission of a request that had no effect to the window it was counted
// in. Admissions granted while the limiter was failing open were never counted.
func (s *IngestService) refund(ctx context.Context, client *domain.Client, decision *ratelimit.Decision) {
	if decision.Remaining < 0 || decision.Window == 0 {
		return
	}

	if err := s.limiter.Refund(ctx, client.ID, *decision); err != nil {
		s.log.Warn("Failed to refund rate limit", zap.String("client_id", client.ID), zap.Error(err))
		return
	}
	decision.Remaining = min(decision.Remaining+1, decision.Limit)
}

// ingestOne runs id resolution, reservation and publish for one event of an admitted client.
func (s *IngestService) ingestOne(ctx context.Context, client *domain.Client, req *dto.PublishEventRequest) (string, string, error) {
	event, err := s.buildEvent(client.ID, req)
	if err != nil {
		s.reject("validation")
		return "", "", err
	}

	reservation, reserved, err := s.reserve(ctx, event)
	if err != nil {
		s.reject("unavailable")
		return event.EventID, "", err
	}
	if reservation.Outcome == idempotency.Duplicate {
		s.metrics.IngestOutcomes.WithLabelValues(dto.StatusDuplicate).Inc()
		s.log.Debug("Duplicate event",
			zap.String("client_id", event.ClientID),
			zap.String("event_id", event.EventID))
		return event.EventID, dto.StatusDuplicate, nil
	}

	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.metrics.QueuePublishErrors.Inc()
		s.metrics.IngestOutcomes.WithLabelValues(dto.StatusFailed).Inc()
		s.log.Error("Failed to publish event",
			zap.String("client_id", event.ClientID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		if reserved {
			s.release(ctx, reservation)
		}
		return event.EventID, "", fmt.Errorf("%w: %w", ErrQueuePublishFailed, err)
	}

	if reserved {
		if err := s.guard.Commit(ctx, reservation); err != nil {
			s.log.Warn("Failed to commit idempotency key",
				zap.String("client_id", event.ClientID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}

	s.metrics.IngestOutcomes.WithLabelValues(dto.StatusQueued).Inc()
	return event.EventID, dto.StatusQueued, nil
}

// reserve claims the event key. With IdempotencyFailOpen an unreachable guard admits the
// event unreserved and leaves deduplication to the store.
func (s *IngestService) reserve(ctx context.Context, event *domain.QueuedEvent) (idempotency.Reservation, bool, error) {
	reservation, err := s.guard.Reserve(ctx, event.ClientID, event.EventID)
	if err == nil {
		return reservation, reservation.Outcome == idempotency.Accepted, nil
	}

	if !s.config.IdempotencyFailOpen {
		s.log.Error("Idempotency guard unavailable",
			zap.String("client_id", event.ClientID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return idempotency.Reservation{}, false, unavailable("idempotency guard", err)
	}

	s.metrics.DependencyFailOpen.WithLabelValues("idempotency").Inc()
	s.log.Warn("Idempotency guard unavailable, publishing unreserved",
		zap.String("client_id", event.ClientID),
		zap.String("event_id", event.EventID),
		zap.Error(err))
	return idempotency.Reservation{Outcome: idempotency.Accepted}, false, nil
}

// release frees the key so a retry is accepted. It must outlive a cancelled request.
func (s *IngestService) release(ctx context.Context, reservation idempotency.Reservation) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ReleaseTimeout)
	defer cancel()

	if err := s.guard.Release(releaseCtx, reservation); err != nil {
		s.log.Warn("Failed to release idempotency key",
			zap.String("key", reservation.Key),
			zap.Error(err))
	}
}

func (s *IngestService) buildEvent(clientID string, req *dto.PublishEventRequest) (*domain.QueuedEvent, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return nil, validationError("event_type is required")
	}

	now := s.now().UTC()

	submittedAt := now
	if ts := strings.TrimSpace(req.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, validationError("timestamp must be RFC3339: %q", ts)
		}
		submittedAt = parsed.UTC()
	}

	if submittedAt.After(now.Add(s.config.MaxClockSkew)) {
		s.log.Warn("Timestamp validation failed: future timestamp",
			zap.Time("event_timestamp", submittedAt),
			zap.Time("current_time", now),
			zap.String("event_type", eventType))
		return nil, validationError("timestamp cannot be in the future: %s", submittedAt.Format(time.RFC3339))
	}

	payload, err := compactPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(req.IdempotencyKey)
	}
	if eventID == "" {
		eventID = computeEventID(clientID, eventType, submittedAt, payload)
	}

	return &domain.QueuedEvent{
		ClientID:    clientID,
		EventID:     eventID,
		EventType:   eventType,
		Payload:     payload,
		SubmittedAt: submittedAt,
		IngestedAt:  now,
	}, nil
}

// compactPayload strips insignificant whitespace so equal payloads hash equally.
func compactPayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, validationError("payload must be valid JSON")
	}
	return buf.Bytes(), nil
}

// computeEventID derives a deterministic event ID from the event content.
// Uses SHA-256 of client_id|event_type|timestamp|payload.
func computeEventID(clientID, eventType string, submittedAt time.Time, payload json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(clientID))
	h.Write([]byte{'|'})
	h.Write([]byte(eventType))
	h.Write([]byte{'|'})
	h.Write([]byte(submittedAt.Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *IngestService) reject(reason string) {
	s.metrics.IngestRejections.WithLabelValues(reason).Inc()
}
