package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/auth"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/ratelimit"
	"github.com/BarkinBalci/event-ingestion-service/internal/service"
)

// writeError maps the error taxonomy onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var limitErr *ratelimit.LimitError

	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})

	case errors.Is(err, auth.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:   "unauthenticated",
			Message: "missing or unknown API key",
		})

	case errors.Is(err, auth.ErrForbidden):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error:   "forbidden",
			Message: "client is deactivated",
		})

	case errors.As(err, &limitErr):
		seconds := retryAfterSeconds(limitErr.RetryAfter)
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.Header("X-RateLimit-Limit", strconv.Itoa(limitErr.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{
			Error:      "rate_limited",
			Message:    limitErr.Error(),
			Retryable:  true,
			RetryAfter: seconds,
		})

	case errors.Is(err, service.ErrQueuePublishFailed):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:     "queue_publish_failed",
			Message:   "event was not queued, retry the request",
			Retryable: true,
		})

	case errors.Is(err, service.ErrDependencyUnavailable), errors.Is(err, service.ErrAnalyticsUnavailable):
		h.log.Warn("Dependency unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:     "service_unavailable",
			Message:   "service temporarily unavailable",
			Retryable: true,
		})

	default:
		h.log.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
}

// writeBindError reports a body or query that failed binding.
func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}

func setRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit <= 0 || decision.Remaining < 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
}

// retryAfterSeconds rounds up, never below one second.
func retryAfterSeconds(d time.Duration) int64 {
	return max(int64(math.Ceil(d.Seconds())), 1)
}
