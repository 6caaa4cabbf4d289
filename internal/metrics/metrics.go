package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "event_ingestion"

var (
	httpBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	batchBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
)

// Metrics holds the operational collectors shared by the api and consumer binaries.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	IngestOutcomes     *prometheus.CounterVec
	IngestRejections   *prometheus.CounterVec
	QueuePublishErrors prometheus.Counter
	DependencyFailOpen *prometheus.CounterVec

	ConsumerWritten       prometheus.Counter
	ConsumerSkipped       prometheus.Counter
	ConsumerBatchFailures prometheus.Counter
	ConsumerBatchDuration prometheus.Histogram
	ConsumerDeadLettered  *prometheus.CounterVec

	AuditDropped       prometheus.Counter
	AuditWriteFailures prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
		IngestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "events_total",
			Help:      "Ingested events by outcome (queued, duplicate, failed)",
		}, []string{"outcome"}),
		IngestRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rejections_total",
			Help:      "Ingestion requests rejected before enqueue, by reason",
		}, []string{"reason"}),
		QueuePublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "queue_publish_failures_total",
			Help:      "Events that could not be published to the queue",
		}),
		DependencyFailOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "fail_open_total",
			Help:      "Requests admitted while a dependency was unavailable",
		}, []string{"dependency"}),
		ConsumerWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "events_written_total",
			Help:      "Processed events written to the store",
		}),
		ConsumerSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "events_skipped_total",
			Help:      "Redelivered events skipped because their key was already stored",
		}),
		ConsumerBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "batch_failures_total",
			Help:      "Batches whose write failed and were returned to the queue",
		}),
		ConsumerBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "batch_write_duration_seconds",
			Help:      "Time spent writing one batch to the store",
			Buckets:   batchBuckets,
		}),
		ConsumerDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "dead_letters_total",
			Help:      "Messages moved to the dead-letter sink, by reason",
		}, []string{"reason"}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_dropped_total",
			Help:      "Audit entries dropped because the buffer was full",
		}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit batches that failed to persist",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.IngestOutcomes,
		m.IngestRejections,
		m.QueuePublishErrors,
		m.DependencyFailOpen,
		m.ConsumerWritten,
		m.ConsumerSkipped,
		m.ConsumerBatchFailures,
		m.ConsumerBatchDuration,
		m.ConsumerDeadLettered,
		m.AuditDropped,
		m.AuditWriteFailures,
	)

	return m
}

// NewNop returns collectors registered on a throwaway registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
