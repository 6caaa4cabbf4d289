package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/deadletter"
	"github.com/BarkinBalci/event-ingestion-service/internal/metrics"
	"github.com/BarkinBalci/event-ingestion-service/internal/queue"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

// Consumer orchestrates a pipeline of stages to process SQS messages
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	batchWriter *BatchWriter
	bufferSize  int
}

// NewConsumer wires receiver, parser and batch writer from configuration
func NewConsumer(
	cfg *config.Config,
	queueConsumer queue.QueueConsumer,
	repo repository.EventRepository,
	sink deadletter.Sink,
	m *metrics.Metrics,
	log *zap.Logger,
) *Consumer {
	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     cfg.Consumer.MaxMessages,
		WaitTimeSeconds: cfg.Consumer.WaitTimeSec,
	}, log.Named("receiver"))

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), sink, ParserStageConfig{
		MaxReceiveCount:   cfg.Consumer.MaxReceiveCount,
		NackVisibilitySec: cfg.Consumer.NackVisibilitySec,
	}, m, log.Named("parser"))

	batchWriter := NewBatchWriter(repo, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, m, log.Named("writer"))

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		batchWriter: batchWriter,
		bufferSize:  int(cfg.Consumer.MaxMessages) * 10,
	}
}

// Start runs the pipeline until ctx is cancelled and every stage has stopped
func (c *Consumer) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, c.bufferSize)
	envelopeChan := make(chan *Envelope, c.bufferSize)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, envelopeChan)
	}()

	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}
