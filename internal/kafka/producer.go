package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer used by Producer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON records to a single topic with bounded retries.
type Producer struct {
	writer  Writer
	topic   string
	config  *Config
	logger  *slog.Logger
	closed  atomic.Bool
	metrics counters
}

type counters struct {
	messages      atomic.Int64
	bytes         atomic.Int64
	errors        atomic.Int64
	retries       atomic.Int64
	lastError     atomic.Value // string
	lastErrorTime atomic.Value // time.Time
}

func (c *counters) recordError(err error) {
	c.errors.Add(1)
	c.lastError.Store(err.Error())
	c.lastErrorTime.Store(time.Now())
}

func (c *counters) snapshot() Metrics {
	m := Metrics{
		Messages: c.messages.Load(),
		Bytes:    c.bytes.Load(),
		Errors:   c.errors.Load(),
		Retries:  c.retries.Load(),
	}
	if v, ok := c.lastError.Load().(string); ok {
		m.LastError = v
	}
	if v, ok := c.lastErrorTime.Load().(time.Time); ok {
		m.LastErrorTime = v
	}
	return m
}

// NewProducer creates a producer for the given topic.
func NewProducer(config *Config, topic string, logger *slog.Logger) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, errors.New("kafka: producer topic is required")
	}

	dialer, err := config.Dialer()
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
		MaxAttempts:  1,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Compression:  config.compression(),
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
			TLS:  dialer.TLS,
			SASL: dialer.SASLMechanism,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka producer initialized",
		"brokers", config.Brokers,
		"topic", topic,
		"compression", config.Compression,
	)
	return NewProducerWithWriter(config, topic, writer, logger), nil
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(config *Config, topic string, w Writer, logger *slog.Logger) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		config: config,
		logger: logger,
	}
}

// Topic returns the topic the producer writes to.
func (p *Producer) Topic() string {
	return p.topic
}

// PublishJSON marshals value and publishes it under key. Headers are
// attached as Kafka record headers.
func (p *Producer) PublishJSON(ctx context.Context, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.publish(ctx, msg)
}

// publish writes with exponential backoff between attempts.
func (p *Producer) publish(ctx context.Context, msg kafka.Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var lastErr error
	backoff := p.config.RetryBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.retries.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.metrics.messages.Add(1)
			p.metrics.bytes.Add(int64(len(msg.Key) + len(msg.Value)))
			return nil
		}

		lastErr = err
		p.metrics.recordError(err)
		p.logger.Warn("kafka publish failed",
			"topic", p.topic,
			"error", err,
			"attempt", attempt+1,
		)

		if isNonRetryable(err) || ctx.Err() != nil {
			return fmt.Errorf("kafka: publish to %s: %w", p.topic, err)
		}
	}
	return fmt.Errorf("kafka: failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// Metrics returns producer counters.
func (p *Producer) Metrics() Metrics {
	return p.metrics.snapshot()
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.logger.Info("closing kafka producer",
		"topic", p.topic,
		"messages", p.metrics.messages.Load(),
	)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}

func isNonRetryable(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge),
		errors.Is(err, kafka.InvalidTopic),
		errors.Is(err, kafka.TopicAuthorizationFailed),
		errors.Is(err, kafka.ClusterAuthorizationFailed):
		return true
	}
	return false
}
