package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
	defaultWriteTimeout  = 5 * time.Second
)

// Config sizes the in-memory buffer and the write cadence
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// Logger persists audit entries in the background. Recording never blocks the caller and
// never fails it: entries that do not fit in the buffer are dropped and counted.
type Logger struct {
	repo    repository.AuditRepository
	config  Config
	metrics *metrics.Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan domain.AuditLogEntry
	done    chan struct{}
}

// NewLogger creates the logger and starts its writer goroutine
func NewLogger(repo repository.AuditRepository, config Config, m *metrics.Metrics, log *zap.Logger) *Logger {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	l := &Logger{
		repo:    repo,
		config:  config,
		metrics: m,
		log:     log,
		entries: make(chan domain.AuditLogEntry, config.BufferSize),
		done:    make(chan struct{}),
	}

	go l.run()

	return l
}

// Record queues an entry for persistence.
func (l *Logger) Record(entry domain.AuditLogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.metrics.AuditDropped.Inc()
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.metrics.AuditDropped.Inc()
	}
}

// Close stops accepting entries and waits for the buffered ones to be written.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.AuditLogEntry, 0, l.config.BatchSize)

	for {
		select {
		case entry, ok := <-l.entries:
			if !ok {
				l.flush(batch)
				return
			}

			batch = append(batch, entry)
			if len(batch) >= l.config.BatchSize {
				l.flush(batch)
				batch = make([]domain.AuditLogEntry, 0, l.config.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]domain.AuditLogEntry, 0, l.config.BatchSize)
			}
		}
	}
}

func (l *Logger) flush(batch []domain.AuditLogEntry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	if err := l.repo.InsertAuditBatch(ctx, batch); err != nil {
		l.metrics.AuditWriteFailures.Inc()
		l.log.Error("Failed to write audit entries",
			zap.Int("entries", len(batch)),
			zap.Error(err))
	}
}
