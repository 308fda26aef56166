package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one consumed record.
type Handler func(ctx context.Context, msg Message) error

// Message is a consumed Kafka record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Reader is the subset of *kafka.Reader used by Consumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group and hands each record to a
// Handler. Records are committed after the handler returns, whether or not
// it failed, so a poison record cannot stall the partition.
type Consumer struct {
	reader  Reader
	topic   string
	config  *Config
	handler Handler
	logger  *slog.Logger
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	metrics counters
}

// NewConsumer creates a consumer for topic.
func NewConsumer(config *Config, topic string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, errors.New("kafka: consumer topic is required")
	}
	if handler == nil {
		return nil, errors.New("kafka: message handler is required")
	}

	dialer, err := config.Dialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          topic,
		Dialer:         dialer,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		MaxWait:        config.MaxWait,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	logger.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", topic,
		"group", config.ConsumerGroup,
	)
	return NewConsumerWithReader(config, topic, reader, handler, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(config *Config, topic string, r Reader, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		config:  config,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run consumes until ctx is cancelled. It blocks.
func (c *Consumer) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}
	defer close(c.done)

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrConsumerClosed
			}
			c.metrics.recordError(err)
			c.logger.Error("failed to fetch message", "topic", c.topic, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		msg := Message{
			Topic:     km.Topic,
			Partition: km.Partition,
			Offset:    km.Offset,
			Key:       km.Key,
			Value:     km.Value,
			Time:      km.Time,
			Headers:   make(map[string]string, len(km.Headers)),
		}
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}

		if err := c.handle(ctx, msg); err != nil {
			c.metrics.recordError(err)
			c.logger.Error("failed to process message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset", "offset", km.Offset, "error", err)
		}

		c.metrics.messages.Add(1)
		c.metrics.bytes.Add(int64(len(km.Key) + len(km.Value)))
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) error {
	timeout := c.config.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.handler(hctx, msg)
}

// Metrics returns consumer counters.
func (c *Consumer) Metrics() Metrics {
	return c.metrics.snapshot()
}

// Close closes the reader. Run must have returned or its context must be
// cancelled first.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Info("stopping kafka consumer",
		"topic", c.topic,
		"messages", c.metrics.messages.Load(),
	)
	if c.started.Load() {
		<-c.done
	}
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}
	return nil
}
