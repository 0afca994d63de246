package kafka

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"energy-history/internal/history/domain/meter"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

const feedName = "kafka"

// Config selects the topic carrying meter readings.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// ReadingProcessor handles one live reading.
type ReadingProcessor interface {
	HandleReading(ctx context.Context, r meter.Reading) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer feeds readings from a Kafka topic into the pipeline.
type Consumer struct {
	reader    messageReader
	processor ReadingProcessor
	log       *logger.Logger
	poll      time.Duration
	topic     string
}

// NewConsumer builds a consumer-group reader for cfg.
func NewConsumer(cfg Config, processor ReadingProcessor, log *logger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka consumer: empty topic")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer: empty group id")
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafkago.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(reader, processor, cfg.Topic, cfg.PollTimeout, log)
}

func newConsumer(reader messageReader, processor ReadingProcessor, topic string, poll time.Duration, log *logger.Logger) (*Consumer, error) {
	if processor == nil {
		return nil, errors.New("kafka consumer: nil processor")
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Consumer{reader: reader, processor: processor, log: logger.OrNop(log), poll: poll, topic: topic}, nil
}

// Run consumes until ctx is cancelled or the reader is closed.
// Undecodable messages are logged and committed so they do not block the partition.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Infow("kafka consumer started", "topic", c.topic)
	defer c.log.Infow("kafka consumer stopped", "topic", c.topic)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafkago.ErrGroupClosed):
				return nil
			}
			c.log.Errorw("kafka fetch failed", "topic", c.topic, "err", err)
			continue
		}

		c.handle(ctx, msg)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.log.Errorw("kafka commit failed", "topic", c.topic, "offset", msg.Offset, "err", err)
			}
		}
		commitCancel()
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	if !msg.Time.IsZero() {
		metrics.ObserveConsumerLag(feedName, time.Since(msg.Time))
	}
	reading, err := meter.DecodeReading(msg.Value)
	// the message key carries the serial number when the payload omits it
	if errors.Is(err, meter.ErrEmptySerialNumber) && len(msg.Key) > 0 {
		reading.SerialNumber = string(msg.Key)
		err = nil
	}
	if err != nil {
		c.log.Warnw("kafka reading rejected", "offset", msg.Offset, "err", err)
		return
	}
	if err := c.processor.HandleReading(ctx, reading); err != nil {
		c.log.Warnw("kafka reading not processed", "serial_number", reading.SerialNumber, "err", err)
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
