package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const finalFlushTimeout = 10 * time.Second

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter handles batching and writing events to the repository
type BatchWriter struct {
	repository repository.EventRepository
	config     BatchWriterConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(repo repository.EventRepository, config BatchWriterConfig, m *metrics.Metrics, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		repository: repo,
		config:     config,
		metrics:    m,
		log:        log,
	}
}

// Start collects envelopes and flushes them when the batch is full or the flush timeout fires.
// The batch pending at shutdown is still written, with a context detached from ctx.
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			w.flushFinal(ctx, batch)
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				w.flushFinal(ctx, batch)
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("envelope_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

func (w *BatchWriter) flushFinal(ctx context.Context, batch []*Envelope) {
	if len(batch) == 0 {
		return
	}

	w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	w.processBatch(flushCtx, batch)
}

// processBatch writes the batch, then acks every envelope on success or nacks every
// envelope on failure. Keys already stored count as written, so redeliveries are acked.
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	events := make([]*domain.Event, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}

	start := time.Now()
	inserted, skipped, err := w.repository.InsertBatch(ctx, events)
	w.metrics.ConsumerBatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.log.Error("Failed to insert batch",
			zap.Error(err),
			zap.Int("event_count", len(events)))
		w.metrics.ConsumerBatchFailures.Inc()
		w.nackAll(ctx, envelopes)
		return
	}

	w.metrics.ConsumerWritten.Add(float64(inserted))
	w.metrics.ConsumerSkipped.Add(float64(skipped))

	w.log.Info("Batch written",
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped))
	w.ackAll(ctx, envelopes)
}

// ackAll deletes every envelope's message. A failed delete only causes a redelivery that
// the store skips.
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.String("message_id", env.MessageID), zap.Error(err))
		}
	}
}

func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.String("message_id", env.MessageID), zap.Error(err))
		}
	}
}
