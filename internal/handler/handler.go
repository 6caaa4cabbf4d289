package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/auth"
	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/dto"
	"github.com/BarkinBalci/event-ingestion-service/internal/health"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/service"
)

// IdempotencyKeyHeader optionally names the event when the body carries no event_id.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxIdempotencyKeyLength matches the bound on a body event_id.
const maxIdempotencyKeyLength = 128

// HealthChecker reports dependency reachability
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// AuditRecorder receives one entry per handled request
type AuditRecorder interface {
	Record(entry domain.AuditLogEntry)
}

// Options holds the optional parts of the router
type Options struct {
	// AnalyticsToken, when set, is required as a Bearer token on analytics routes.
	AnalyticsToken string
	// Gatherer backs GET /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

type Handler struct {
	ingester service.Ingester
	analyzer service.Analyzer
	health   HealthChecker
	audit    AuditRecorder
	metrics  *metrics.Metrics
	options  Options
	router   *gin.Engine
	log      *zap.Logger
}

func NewHandler(
	ingester service.Ingester,
	analyzer service.Analyzer,
	checker HealthChecker,
	recorder AuditRecorder,
	m *metrics.Metrics,
	options Options,
	log *zap.Logger,
) *Handler {
	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}

	h := &Handler{
		ingester: ingester,
		analyzer: analyzer,
		health:   checker,
		audit:    recorder,
		metrics:  m,
		options:  options,
		router:   gin.New(),
		log:      log,
	}

	h.router.Use(gin.Recovery(), requestID(), h.observe(), h.recoverPanic())
	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.options.Gatherer, promhttp.HandlerOpts{})))

	h.router.POST("/events", h.publishEvent)
	h.router.POST("/events/bulk", h.publishEventsBulk)

	analytics := h.router.Group("/analytics", bearerToken(h.options.AnalyticsToken))
	analytics.GET("", h.getAnalytics)
	analytics.GET("/count", h.getCount)
}

// healthCheck handles health check requests
// @Summary Health check
// @Description Report the reachability of the queue, store, client registry and cache
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Failure 503 {object} dto.HealthResponse
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, dto.HealthResponse{
		Status: report.Status,
		Checks: report.Checks,
	})
}

// publishEvent handles POST /events
// @Summary Publish a single event
// @Description Accept one event for asynchronous processing
// @Tags events
// @Accept json
// @Produce json
// @Param X-API-Key header string true "Client API key"
// @Param Idempotency-Key header string false "Event id used when the body has none"
// @Param event body dto.PublishEventRequest true "Event data"
// @Success 202 {object} dto.PublishEventResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /events [post]
func (h *Handler) publishEvent(c *gin.Context) {
	apiKey, ok := h.requireAPIKey(c)
	if !ok {
		return
	}

	var req dto.PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request",
			zap.Error(err),
			zap.String("event_type", req.EventType))
		writeBindError(c, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: fmt.Sprintf("%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLength),
		})
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), apiKey, &req)
	if result != nil {
		setClientID(c, result.ClientID)
		setRateLimitHeaders(c, result.RateLimit)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("Event accepted",
		zap.String("client_id", result.ClientID),
		zap.String("event_id", result.Response.EventID),
		zap.String("status", result.Response.Status))

	c.JSON(http.StatusAccepted, result.Response)
}

// publishEventsBulk handles POST /events/bulk
// @Summary Publish multiple events
// @Description Accept up to 1000 events; each is deduplicated and queued independently
// @Tags events
// @Accept json
// @Produce json
// @Param X-API-Key header string true "Client API key"
// @Param events body dto.PublishEventsBulkRequest true "Bulk events data"
// @Success 202 {object} dto.PublishBulkEventsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /events/bulk [post]
func (h *Handler) publishEventsBulk(c *gin.Context) {
	apiKey, ok := h.requireAPIKey(c)
	if !ok {
		return
	}

	var bulkRequest dto.PublishEventsBulkRequest
	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk event request", zap.Error(err))
		writeBindError(c, err)
		return
	}

	result, err := h.ingester.IngestBulk(c.Request.Context(), apiKey, bulkRequest.Events)
	if result != nil {
		setClientID(c, result.ClientID)
		setRateLimitHeaders(c, result.RateLimit)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("Bulk events processed",
		zap.String("client_id", result.ClientID),
		zap.Int("accepted", result.Response.Accepted),
		zap.Int("duplicates", result.Response.Duplicates),
		zap.Int("rejected", result.Response.Rejected),
		zap.Int("total", len(bulkRequest.Events)))

	c.JSON(http.StatusAccepted, result.Response)
}

// getAnalytics handles GET /analytics
// @Summary Get aggregated analytics
// @Description Count events and average processing latency in [from, to), optionally grouped
// @Tags analytics
// @Produce json
// @Security BearerAuth
// @Param from query string true "Range start, inclusive (RFC3339)" example:"2025-03-01T00:00:00Z"
// @Param to query string true "Range end, exclusive (RFC3339)" example:"2025-03-02T00:00:00Z"
// @Param group_by query string false "Comma separated: client_id, event_type, hour, day" example:"client_id,event_type"
// @Param client_id query string false "Only events of this client"
// @Param event_type query string false "Only events of this type"
// @Success 200 {object} dto.GetAnalyticsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /analytics [get]
func (h *Handler) getAnalytics(c *gin.Context) {
	var req dto.GetAnalyticsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid analytics request", zap.Error(err))
		writeBindError(c, err)
		return
	}

	response, err := h.analyzer.GetAnalytics(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("Analytics retrieved",
		zap.String("from", response.From),
		zap.String("to", response.To),
		zap.Strings("group_by", response.GroupBy),
		zap.Uint64("total_count", response.TotalCount))

	c.JSON(http.StatusOK, response)
}

// getCount handles GET /analytics/count
// @Summary Count events of one type
// @Tags analytics
// @Produce json
// @Security BearerAuth
// @Param event_type query string true "Event type"
// @Param from query string true "Range start, inclusive (RFC3339)"
// @Param to query string true "Range end, exclusive (RFC3339)"
// @Success 200 {object} dto.GetCountResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /analytics/count [get]
func (h *Handler) getCount(c *gin.Context) {
	var req dto.GetCountRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid count request", zap.Error(err))
		writeBindError(c, err)
		return
	}

	response, err := h.analyzer.CountEvents(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// requireAPIKey rejects requests without a key before the body is read.
func (h *Handler) requireAPIKey(c *gin.Context) (string, bool) {
	apiKey := strings.TrimSpace(c.GetHeader(auth.APIKeyHeader))
	if apiKey == "" {
		h.writeError(c, auth.ErrUnauthenticated)
		return "", false
	}
	return apiKey, true
}
