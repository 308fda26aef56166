package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics creates the configured topics that do not exist yet.
func EnsureTopics(ctx context.Context, config *Config, logger *slog.Logger) error {
	dialer, err := config.Dialer()
	if err != nil {
		return err
	}

	conn, err := dialer.DialContext(ctx, "tcp", config.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: failed to connect to broker: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: failed to list topics: %w", err)
	}
	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var missing []kafka.TopicConfig
	for _, name := range config.topicNames() {
		if existing[name] {
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     config.Partitions,
			ReplicationFactor: config.Replication,
		})
	}
	if len(missing) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: failed to get controller: %w", err)
	}
	cc, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka: failed to connect to controller: %w", err)
	}
	defer cc.Close()

	if err := cc.CreateTopics(missing...); err != nil {
		return fmt.Errorf("kafka: failed to create topics: %w", err)
	}
	for _, t := range missing {
		logger.Info("kafka topic created", "topic", t.Topic, "partitions", t.NumPartitions)
	}
	return nil
}

func (c *Config) topicNames() []string {
	var names []string
	for _, t := range []string{c.Topics.Alerts, c.Topics.Events, c.Topics.HandOffs} {
		if t != "" {
			names = append(names, t)
		}
	}
	return names
}
