package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const maxHourlyRange = 90 * 24 * time.Hour

var supportedGroupBy = map[string]bool{
	repository.GroupByClientID:  true,
	repository.GroupByEventType: true,
	repository.GroupByHour:      true,
	repository.GroupByDay:       true,
}

// AnalyticsService answers aggregate queries over processed events
type AnalyticsService struct {
	store AnalyticsStore
	log   *zap.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(store AnalyticsStore, log *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store: store,
		log:   log,
	}
}

// GetAnalytics retrieves counts and average latency over [from, to)
func (s *AnalyticsService) GetAnalytics(ctx context.Context, req *dto.GetAnalyticsRequest) (*dto.GetAnalyticsResponse, error) {
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}

	groupBy, err := parseGroupBy(req.GroupBy)
	if err != nil {
		s.log.Warn("Invalid group_by value", zap.String("group_by", req.GroupBy))
		return nil, err
	}

	if contains(groupBy, repository.GroupByHour) && to.Sub(from) > maxHourlyRange {
		days := int(to.Sub(from).Hours() / 24)
		s.log.Warn("Large time range for hourly grouping", zap.Int("range_days", days))
		return nil, validationError("time range too large for hourly grouping (max 90 days, got %d days)", days)
	}

	query := repository.AnalyticsQuery{
		From:      from,
		To:        to,
		ClientID:  strings.TrimSpace(req.ClientID),
		EventType: strings.TrimSpace(req.EventType),
		GroupBy:   groupBy,
	}

	s.log.Debug("Querying analytics",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.String("client_id", query.ClientID),
		zap.String("event_type", query.EventType),
		zap.Strings("group_by", groupBy))

	result, err := s.store.GetAnalytics(ctx, query)
	if err != nil {
		s.log.Error("Analytics query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAnalyticsUnavailable, err)
	}

	response := &dto.GetAnalyticsResponse{
		From:         from.Format(time.RFC3339),
		To:           to.Format(time.RFC3339),
		TotalCount:   result.TotalCount,
		AvgLatencyMs: result.AvgLatencyMs,
		GroupBy:      groupBy,
		Groups:       make([]dto.AnalyticsGroupData, 0, len(result.Groups)),
	}

	for _, group := range result.Groups {
		response.Groups = append(response.Groups, dto.AnalyticsGroupData{
			ClientID:     group.ClientID,
			EventType:    group.EventType,
			Bucket:       group.Bucket,
			Count:        group.Count,
			AvgLatencyMs: group.AvgLatencyMs,
		})
	}

	return response, nil
}

// CountEvents counts processed events of one type over [from, to). Either bound may be omitted.
func (s *AnalyticsService) CountEvents(ctx context.Context, req *dto.GetCountRequest) (*dto.GetCountResponse, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return nil, validationError("event_type is required")
	}

	from, to, err := parseOpenRange(req.From, req.To)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountEvents(ctx, eventType, from, to)
	if err != nil {
		s.log.Error("Count query failed", zap.String("event_type", eventType), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAnalyticsUnavailable, err)
	}

	return &dto.GetCountResponse{
		EventType: eventType,
		From:      formatBound(from),
		To:        formatBound(to),
		Count:     count,
	}, nil
}

func parseRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(fromRaw))
	if err != nil {
		return time.Time{}, time.Time{}, validationError("from must be an RFC3339 timestamp")
	}

	to, err := time.Parse(time.RFC3339, strings.TrimSpace(toRaw))
	if err != nil {
		return time.Time{}, time.Time{}, validationError("to must be an RFC3339 timestamp")
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, validationError("from must be before to")
	}

	return from.UTC(), to.UTC(), nil
}

// parseGroupBy splits a comma separated list, dropping blanks and repeats.
func parseGroupBy(raw string) ([]string, error) {
	var groupBy []string
	for _, part := range strings.Split(raw, ",") {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" || contains(groupBy, value) {
			continue
		}
		if !supportedGroupBy[value] {
			return nil, validationError("invalid group_by value: %s (supported: client_id, event_type, hour, day)", value)
		}
		groupBy = append(groupBy, value)
	}

	if contains(groupBy, repository.GroupByHour) && contains(groupBy, repository.GroupByDay) {
		return nil, validationError("group_by accepts only one of hour, day")
	}

	return groupBy, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// parseOpenRange is parseRange with optional bounds. A zero time means unbounded.
func parseOpenRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time

	if raw := strings.TrimSpace(fromRaw); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, validationError("from must be an RFC3339 timestamp")
		}
		from = parsed.UTC()
	}

	if raw := strings.TrimSpace(toRaw); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, validationError("to must be an RFC3339 timestamp")
		}
		to = parsed.UTC()
	}

	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, validationError("from must be before to")
	}

	return from, to, nil
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
