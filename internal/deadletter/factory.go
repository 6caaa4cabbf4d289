package deadletter

import (
	"context"

	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
)

// NewFromConfig builds the sink for the configured destinations: the SQS dead-letter queue,
// the S3 archive, both, or only logging when neither is set.
func NewFromConfig(ctx context.Context, cfg *config.Config, publisher queue.DeadLetterPublisher, log *zap.Logger) (Sink, error) {
	var sinks Fanout

	if cfg.SQS.DeadLetterQueueURL != "" {
		sinks = append(sinks, NewQueueSink(publisher))
	}

	if cfg.DeadLetter.S3Bucket != "" {
		archive, err := NewS3Sink(ctx, cfg.DeadLetter, cfg.SQS.Region, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archive)
	}

	switch len(sinks) {
	case 0:
		log.Warn("No dead-letter destination configured, undeliverable messages will only be logged")
		return NewLogSink(log), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
