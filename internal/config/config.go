// Package config handles configuration loading for Boundary-SOAR.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"boundary-soar/internal/archive"
	"boundary-soar/internal/correlation"
	"boundary-soar/internal/dispatch"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/kafka"
	"boundary-soar/internal/secrets"
	"boundary-soar/internal/storage"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server          ServerConfig             `yaml:"server"`
	Auth            AuthConfig               `yaml:"auth"`
	RateLimit       RateLimitConfig          `yaml:"rate_limit"`
	SecurityHeaders SecurityHeadersConfig    `yaml:"security_headers"`
	Logging         LoggingConfig            `yaml:"logging"`
	Engine          EngineConfig             `yaml:"engine"`
	Definitions     DefinitionsConfig        `yaml:"definitions"`
	Correlation     CorrelationConfig        `yaml:"correlation"`
	Store           StoreConfig              `yaml:"store"`
	Queue           QueueConfig              `yaml:"queue"`
	Dispatch        DispatchConfig           `yaml:"dispatch"`
	Kafka           *kafka.Config            `yaml:"kafka"`
	ClickHouse      storage.ClickHouseConfig `yaml:"clickhouse"`
	Archive         archive.Config           `yaml:"archive"`
	Secrets         secrets.Config           `yaml:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	Enabled      bool     `yaml:"enabled"`
	// ExemptPaths are served without a key.
	ExemptPaths []string `yaml:"exempt_paths"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"` // per window
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"` // honour X-Forwarded-For
}

// SecurityHeadersConfig holds response header settings for the JSON API.
type SecurityHeadersConfig struct {
	Enabled               bool              `yaml:"enabled"`
	HSTSEnabled           bool              `yaml:"hsts_enabled"`
	HSTSMaxAge            int               `yaml:"hsts_max_age"`
	HSTSIncludeSubdomains bool              `yaml:"hsts_include_subdomains"`
	ContentSecurityPolicy string            `yaml:"content_security_policy"`
	FrameOptions          string            `yaml:"frame_options"`
	ReferrerPolicy        string            `yaml:"referrer_policy"`
	NoStore               bool              `yaml:"no_store"`
	CustomHeaders         map[string]string `yaml:"custom_headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	// ProductionMode sanitizes error text returned by the API.
	ProductionMode bool `yaml:"production_mode"`
	// AlertTimeout bounds the processing of one alert, all playbooks
	// included. Zero means unbounded.
	AlertTimeout time.Duration `yaml:"alert_timeout"`
}

// DefinitionsConfig locates playbook, correlation rule and action files.
// Playbooks and Rules may name a file or a directory of YAML files.
type DefinitionsConfig struct {
	Builtin       bool          `yaml:"builtin"`
	Playbooks     string        `yaml:"playbooks"`
	Rules         string        `yaml:"rules"`
	Actions       string        `yaml:"actions"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// Event source kinds for the correlation engine.
const (
	EventSourceMemory     = "memory"
	EventSourceClickHouse = "clickhouse"
)

// CorrelationConfig holds correlation engine settings.
type CorrelationConfig struct {
	Enabled            bool `yaml:"enabled"`
	correlation.Config `yaml:",inline"`
	EventSource        string        `yaml:"event_source"`
	Retention          time.Duration `yaml:"retention"`
	MaxEvents          int           `yaml:"max_events"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// StoreConfig selects the incident store.
type StoreConfig struct {
	Backend string               `yaml:"backend"`
	Redis   incident.RedisConfig `yaml:"redis"`
}

// QueueConfig holds deferred work queue settings.
type QueueConfig struct {
	Size          int           `yaml:"size"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
}

// DispatchConfig holds hand-off delivery settings and channels.
type DispatchConfig struct {
	dispatch.Config `yaml:",inline"`
	Kafka           bool                   `yaml:"kafka"`
	Webhooks        []WebhookChannelConfig `yaml:"webhooks"`
	Slack           *SlackChannelConfig    `yaml:"slack"`
}

// WebhookChannelConfig declares a webhook hand-off channel.
type WebhookChannelConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Default bool              `yaml:"default"`
}

// SlackChannelConfig declares a Slack hand-off channel.
type SlackChannelConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Default    bool   `yaml:"default"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false, // development default
			ExemptPaths:  []string{"/health", "/metrics"},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 600,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:               true,
			HSTSEnabled:           true,
			HSTSMaxAge:            31536000,
			HSTSIncludeSubdomains: true,
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			FrameOptions:          "DENY",
			ReferrerPolicy:        "no-referrer",
			NoStore:               true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			AlertTimeout: 5 * time.Minute,
		},
		Definitions: DefinitionsConfig{
			Builtin:       true,
			ActionTimeout: 30 * time.Second,
		},
		Correlation: CorrelationConfig{
			Enabled:     true,
			Config:      correlation.DefaultConfig(),
			EventSource: EventSourceMemory,
			Retention:   24 * time.Hour,
			MaxEvents:   100000,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Redis:   incident.DefaultRedisConfig(),
		},
		Queue: QueueConfig{
			Size:          1024,
			DrainInterval: time.Second,
			TaskTimeout:   30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Config: dispatch.DefaultConfig(),
		},
		Kafka:      kafka.DefaultConfig(),
		ClickHouse: storage.DefaultClickHouseConfig(),
		Archive:    archive.DefaultConfig(),
		Secrets:    secrets.DefaultConfig(),
	}
}

// Load reads the configuration file named by SOAR_CONFIG_PATH over the
// defaults and applies environment overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SOAR_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/soar.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile reads the configuration from path. A missing file yields the
// defaults with environment overrides applied.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.resolveSecrets(context.Background(), secrets.NewManager(cfg.Secrets, nil)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets replaces "env:" and "file:" references in credential
// fields with the values they point to.
func (c *Config) resolveSecrets(ctx context.Context, m *secrets.Manager) error {
	fields := []*string{
		&c.Store.Redis.Password,
		&c.ClickHouse.Password,
		&c.Archive.AccessKeyID,
		&c.Archive.SecretAccessKey,
		&c.Archive.SessionToken,
	}
	for i := range c.Auth.APIKeys {
		fields = append(fields, &c.Auth.APIKeys[i])
	}
	if c.Kafka != nil {
		fields = append(fields, &c.Kafka.SASLPassword)
	}
	if c.Dispatch.Slack != nil {
		fields = append(fields, &c.Dispatch.Slack.WebhookURL)
	}
	for i := range c.Dispatch.Webhooks {
		wh := &c.Dispatch.Webhooks[i]
		for k, v := range wh.Headers {
			if !secrets.IsRef(v) {
				continue
			}
			resolved, err := m.Resolve(ctx, v)
			if err != nil {
				return fmt.Errorf("webhook %s header %s: %w", wh.Name, k, err)
			}
			wh.Headers[k] = resolved
		}
	}
	return m.ResolveAll(ctx, fields...)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SOAR_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SOAR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SOAR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if apiKey := os.Getenv("SOAR_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if prod := os.Getenv("SOAR_PRODUCTION"); prod == "true" {
		c.Engine.ProductionMode = true
	}

	// Definitions
	if path := os.Getenv("SOAR_PLAYBOOKS_PATH"); path != "" {
		c.Definitions.Playbooks = path
	}
	if path := os.Getenv("SOAR_RULES_PATH"); path != "" {
		c.Definitions.Rules = path
	}
	if path := os.Getenv("SOAR_ACTIONS_PATH"); path != "" {
		c.Definitions.Actions = path
	}

	// Incident store
	if addr := os.Getenv("SOAR_REDIS_ADDR"); addr != "" {
		c.Store.Backend = StoreRedis
		c.Store.Redis.Addr = addr
	}
	if pass := os.Getenv("SOAR_REDIS_PASSWORD"); pass != "" {
		c.Store.Redis.Password = pass
	}

	// Kafka
	if brokers := os.Getenv("SOAR_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}

	// ClickHouse event source
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.ClickHouse.Hosts = []string{host}
		c.ClickHouse.Enabled = true
		c.Correlation.EventSource = EventSourceClickHouse
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.ClickHouse.Password = pass
	}

	// Archive
	if bucket := os.Getenv("SOAR_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
		c.Archive.Enabled = true
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Archive.Region = region
	}

	// Rate limit
	if enabled := os.Getenv("SOAR_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}
	if rps := os.Getenv("SOAR_RATELIMIT_RPS"); rps != "" {
		fmt.Sscanf(rps, "%d", &c.RateLimit.RequestsPerIP)
	}
}

// splitAndTrim splits s by sep and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return errors.New("auth enabled but no api_keys configured")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerIP <= 0 || c.RateLimit.WindowSize <= 0) {
		return errors.New("rate_limit requires positive requests_per_ip and window_size")
	}

	if c.Queue.Size <= 0 {
		return errors.New("queue size must be positive")
	}
	if c.Queue.DrainInterval <= 0 {
		return errors.New("queue drain_interval must be positive")
	}

	if !c.Definitions.Builtin && c.Definitions.Playbooks == "" {
		return errors.New("definitions: no playbooks configured")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store: redis addr is required")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	if c.Correlation.Enabled {
		if c.Correlation.Interval <= 0 {
			return errors.New("correlation interval must be positive")
		}
		switch c.Correlation.EventSource {
		case EventSourceMemory:
		case EventSourceClickHouse:
			if err := c.ClickHouse.Validate(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("correlation: unknown event_source %q", c.Correlation.EventSource)
		}
	}

	if c.Kafka != nil && (c.Kafka.Enabled || c.Dispatch.Kafka) {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}

	if c.Archive.Enabled {
		if err := c.Archive.Validate(); err != nil {
			return err
		}
	}

	for _, wh := range c.Dispatch.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			return errors.New("dispatch: webhook channels need a name and url")
		}
	}
	if c.Dispatch.Slack != nil && c.Dispatch.Slack.WebhookURL == "" {
		return errors.New("dispatch: slack webhook_url is required")
	}

	return nil
}
