package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"fleetguard/internal/config"
	"fleetguard/internal/logging"
	"fleetguard/internal/metrics"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads telemetry messages from a Kafka topic and feeds them to the
// engine. Each message holds one sample or a JSON array of samples. Offsets
// are committed after the message has been handled, including messages that
// fail to decode, so a bad payload never blocks the partition.
type Consumer struct {
	reader     messageReader
	proc       BatchProcessor
	metrics    *metrics.Collector
	logger     *zap.Logger
	batchLimit int
	backoff    time.Duration
}

func NewConsumer(cfg config.IngestConfig, proc BatchProcessor, collector *metrics.Collector, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, cfg.BatchLimit, proc, collector, logger)
}

func newConsumer(reader messageReader, batchLimit int, proc BatchProcessor, collector *metrics.Collector, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		proc:       proc,
		metrics:    collector,
		logger:     logging.OrNop(logger),
		batchLimit: batchLimit,
		backoff:    time.Second,
	}
}

// StartKafka runs the consumer until ctx is done. It returns nil immediately
// when Kafka ingest is disabled.
func StartKafka(ctx context.Context, cfg config.IngestConfig, proc BatchProcessor, collector *metrics.Collector, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	if !cfg.Kafka.Enabled {
		logger.Info("kafka ingest disabled")
		return nil
	}
	logger.Info("kafka ingest enabled",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group_id", cfg.Kafka.GroupID),
	)
	return NewConsumer(cfg, proc, collector, logger).Run(ctx)
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.metrics.KafkaMessage("read_error")
			c.logger.Warn("kafka read error", zap.Error(err))
			if !BackoffSleep(ctx, c.backoff) {
				return nil
			}
			continue
		}
		c.handle(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	samples, err := DecodeTelemetry(m.Value)
	if err != nil {
		c.metrics.KafkaMessage("decode_error")
		c.logger.Warn("kafka decode error",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return
	}
	if c.batchLimit > 0 && len(samples) > c.batchLimit {
		c.metrics.KafkaMessage("rejected")
		c.logger.Warn("kafka message exceeds batch limit",
			zap.Int("samples", len(samples)),
			zap.Int("limit", c.batchLimit),
			zap.Int64("offset", m.Offset),
		)
		return
	}
	res := c.proc.ProcessBatch(ctx, samples)
	switch {
	case len(res.Failed) == 0:
		c.metrics.KafkaMessage("processed")
	case len(res.Processed) == 0:
		c.metrics.KafkaMessage("failed")
	default:
		c.metrics.KafkaMessage("partial")
	}
}
