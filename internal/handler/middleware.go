package handler

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const (
	ctxRequestID = "request_id"
	ctxClientID  = "client_id"

	unmatchedRoute = "unmatched"
)

// unaudited routes are operational checks, not client traffic.
var unaudited = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// requestID propagates the caller's request id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// observe records HTTP metrics and an audit entry once the request has been handled,
// whatever its outcome.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		metricRoute := route
		if route == "" {
			route = c.Request.URL.Path
			metricRoute = unmatchedRoute
		}

		labels := []string{c.Request.Method, metricRoute, strconv.Itoa(status)}
		h.metrics.HTTPRequests.WithLabelValues(labels...).Inc()
		h.metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())

		if unaudited[route] {
			return
		}

		h.audit.Record(domain.AuditLogEntry{
			RequestID:      c.GetString(ctxRequestID),
			ClientID:       c.GetString(ctxClientID),
			Endpoint:       route,
			Method:         c.Request.Method,
			StatusCode:     status,
			ResponseTimeMs: elapsed.Milliseconds(),
			Timestamp:      start.UTC(),
		})
	}
}

// recoverPanic turns a handler panic into a 500 inside observe, so the request is still
// measured and audited. The outer gin.Recovery only sees panics from the middleware itself.
func (h *Handler) recoverPanic() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.log.Error("Request handler panicked",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		})
	})
}

// bearerToken guards a route group with a static token. An empty token disables the check.
func bearerToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="analytics"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   "unauthenticated",
				Message: "a valid bearer token is required",
			})
			return
		}

		c.Next()
	}
}

func setClientID(c *gin.Context, clientID string) {
	if clientID != "" {
		c.Set(ctxClientID, clientID)
	}
}
