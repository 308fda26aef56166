package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boundary-soar/internal/action"
	"boundary-soar/internal/api"
	"boundary-soar/internal/archive"
	"boundary-soar/internal/config"
	"boundary-soar/internal/correlation"
	"boundary-soar/internal/dispatch"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/kafka"
	"boundary-soar/internal/metrics"
	"boundary-soar/internal/playbook"
	"boundary-soar/internal/soar"
	"boundary-soar/internal/storage"
)

// closerStack closes resources in reverse order of acquisition.
type closerStack struct {
	names []string
	fns   []func() error
}

func (c *closerStack) add(name string, fn func() error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *closerStack) closeAll(logger *slog.Logger) {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			logger.Error("close error", "resource", c.names[i], "error", err)
		}
	}
	c.names, c.fns = nil, nil
}

func loadPlaybooks(defs config.DefinitionsConfig) (*playbook.Registry, error) {
	var pbs []*playbook.Playbook
	if defs.Builtin {
		pbs = append(pbs, playbook.Builtin()...)
	}
	if defs.Playbooks != "" {
		loaded, err := playbook.LoadPath(defs.Playbooks)
		if err != nil {
			return nil, err
		}
		pbs = append(pbs, loaded...)
	}
	reg, err := playbook.NewRegistry(pbs...)
	if err != nil {
		return nil, err
	}
	slog.Info("playbooks loaded", "count", reg.Len())
	return reg, nil
}

func loadActions(defs config.DefinitionsConfig) (*action.Registry, error) {
	var actions []action.Action
	if defs.Actions != "" {
		loaded, err := action.LoadWebhooks(defs.Actions, defs.ActionTimeout)
		if err != nil {
			return nil, err
		}
		actions = loaded
	}
	reg, err := action.NewRegistry(actions...)
	if err != nil {
		return nil, err
	}
	slog.Info("actions loaded", "count", reg.Len(), "names", reg.Names())
	return reg, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, closers *closerStack) (incident.Store, api.CheckFunc, error) {
	if cfg.Backend != config.StoreRedis {
		return incident.NewMemoryStore(), nil, nil
	}
	store, err := incident.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	closers.add("redis", store.Close)
	slog.Info("redis incident store connected", "addr", cfg.Redis.Addr)
	return store, store.Ping, nil
}

// prepareKafka creates missing topics when configured to.
func prepareKafka(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Kafka.Enabled && !cfg.Dispatch.Kafka {
		return nil
	}
	if !cfg.Kafka.CreateTopics {
		return nil
	}
	return kafka.EnsureTopics(ctx, cfg.Kafka, logger)
}

func buildDispatcher(cfg *config.Config, logger *slog.Logger, closers *closerStack) (*dispatch.Router, error) {
	router := dispatch.NewRouter(cfg.Dispatch.Config, logger)

	hasDefault := false
	if cfg.Dispatch.Kafka {
		producer, err := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.HandOffs, logger)
		if err != nil {
			return nil, err
		}
		closers.add("kafka-producer", producer.Close)
		router.AddChannel(dispatch.NewKafkaChannel(producer), true)
		hasDefault = true
	}
	for _, wh := range cfg.Dispatch.Webhooks {
		router.AddChannel(dispatch.NewWebhookChannel(wh.Name, wh.URL, wh.Headers), wh.Default)
		hasDefault = hasDefault || wh.Default
	}
	if s := cfg.Dispatch.Slack; s != nil {
		router.AddChannel(dispatch.NewSlackChannel(s.WebhookURL, s.Channel, s.Username), s.Default)
		hasDefault = hasDefault || s.Default
	}
	// Without another default channel hand-offs are at least logged.
	router.AddChannel(dispatch.NewLogChannel(logger), !hasDefault)

	return router, nil
}

func buildArchiver(ctx context.Context, cfg archive.Config, logger *slog.Logger) (*archive.S3Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("execution archive enabled", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
	return archive.NewS3Archiver(client, cfg, logger), nil
}

type correlationParts struct {
	engine *correlation.Engine
	// memory is set when events are fed from Kafka.
	memory *correlation.MemoryEventSource
}

func buildCorrelation(
	ctx context.Context,
	cfg *config.Config,
	engine *soar.Engine,
	router dispatch.Dispatcher,
	m *metrics.Metrics,
	logger *slog.Logger,
	closers *closerStack,
	checks map[string]api.CheckFunc,
) (correlationParts, error) {
	var parts correlationParts
	if !cfg.Correlation.Enabled {
		return parts, nil
	}

	var rules []*correlation.Rule
	if cfg.Definitions.Builtin {
		rules = append(rules, correlation.BuiltinRules()...)
	}
	if cfg.Definitions.Rules != "" {
		loaded, err := correlation.LoadPath(cfg.Definitions.Rules)
		if err != nil {
			return parts, err
		}
		rules = append(rules, loaded...)
	}
	registry, err := correlation.NewRegistry(rules...)
	if err != nil {
		return parts, err
	}

	var source correlation.EventSource
	switch cfg.Correlation.EventSource {
	case config.EventSourceClickHouse:
		client, err := storage.NewClickHouseClient(ctx, cfg.ClickHouse)
		if err != nil {
			return parts, err
		}
		closers.add("clickhouse", client.Close)
		checks["clickhouse"] = client.Ping
		src, err := storage.NewClickHouseEventSource(client, cfg.ClickHouse)
		if err != nil {
			return parts, err
		}
		source = src
		logger.Info("correlation reading events from clickhouse",
			"hosts", cfg.ClickHouse.Hosts, "table", cfg.ClickHouse.Table)
	case config.EventSourceMemory:
		parts.memory = correlation.NewMemoryEventSource(cfg.Correlation.Retention, cfg.Correlation.MaxEvents)
		source = parts.memory
	default:
		return parts, fmt.Errorf("unknown event source %q", cfg.Correlation.EventSource)
	}

	parts.engine = correlation.NewEngine(cfg.Correlation.Config, registry, source, m, logger)
	correlation.RegisterDefaultActions(parts.engine, engine, router, logger)
	logger.Info("correlation engine ready", "rules", registry.Len(), "interval", cfg.Correlation.Interval)
	return parts, nil
}

type topicConsumer struct {
	topic    string
	consumer *kafka.Consumer
}

func buildConsumers(
	ctx context.Context,
	cfg *config.Config,
	engine *soar.Engine,
	corr correlationParts,
	logger *slog.Logger,
	closers *closerStack,
) ([]topicConsumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	var out []topicConsumer
	add := func(topic string, h kafka.Handler) error {
		c, err := kafka.NewConsumer(cfg.Kafka, topic, h, logger)
		if err != nil {
			return err
		}
		closers.add("kafka-consumer:"+topic, c.Close)
		out = append(out, topicConsumer{topic: topic, consumer: c})
		return nil
	}

	if t := cfg.Kafka.Topics.Alerts; t != "" {
		if err := add(t, engine.HandleAlertMessage); err != nil {
			return nil, err
		}
	}
	if t := cfg.Kafka.Topics.Events; t != "" {
		if corr.memory == nil {
			logger.Warn("event topic ignored: correlation does not use the memory event source", "topic", t)
		} else if err := add(t, corr.memory.HandleMessage); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, errors.New("kafka enabled but no topics to consume")
	}
	return out, nil
}
