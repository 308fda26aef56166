package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected ShutdownTimeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.Backend != StoreMemory {
		t.Errorf("expected memory store, got %s", cfg.Store.Backend)
	}
	if !cfg.Correlation.Enabled || cfg.Correlation.Interval != time.Minute {
		t.Errorf("expected correlation every 1m, got enabled=%v interval=%v",
			cfg.Correlation.Enabled, cfg.Correlation.Interval)
	}
	if cfg.Correlation.EventSource != EventSourceMemory {
		t.Errorf("expected memory event source, got %s", cfg.Correlation.EventSource)
	}
	if !cfg.Definitions.Builtin {
		t.Error("expected builtin definitions to be enabled")
	}
	if cfg.Kafka == nil || cfg.Kafka.Enabled {
		t.Error("expected kafka defaults present and disabled")
	}
	if cfg.Archive.Enabled {
		t.Error("expected archive disabled by default")
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected dispatch MaxAttempts 3, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"too high port", func(c *Config) { c.Server.HTTPPort = 65536 }},
		{"auth without keys", func(c *Config) { c.Auth.Enabled = true }},
		{"zero queue size", func(c *Config) { c.Queue.Size = 0 }},
		{"zero drain interval", func(c *Config) { c.Queue.DrainInterval = 0 }},
		{"no playbooks", func(c *Config) { c.Definitions.Builtin = false }},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }},
		{"redis without addr", func(c *Config) {
			c.Store.Backend = StoreRedis
			c.Store.Redis.Addr = ""
		}},
		{"zero correlation interval", func(c *Config) { c.Correlation.Interval = 0 }},
		{"unknown event source", func(c *Config) { c.Correlation.EventSource = "splunk" }},
		{"clickhouse without hosts", func(c *Config) {
			c.Correlation.EventSource = EventSourceClickHouse
			c.ClickHouse.Hosts = nil
		}},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = ""
		}},
		{"webhook without url", func(c *Config) {
			c.Dispatch.Webhooks = []WebhookChannelConfig{{Name: "soc"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_CorrelationDisabledIgnoresSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Correlation.Enabled = false
	cfg.Correlation.EventSource = "splunk"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple split", "a,b,c", []string{"a", "b", "c"}},
		{"with spaces", "a , b , c", []string{"a", "b", "c"}},
		{"empty parts filtered", "a,,b", []string{"a", "b"}},
		{"single value", "single", []string{"single"}},
		{"empty string", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.input, ",")
			if len(result) != len(tt.expected) {
				t.Fatalf("splitAndTrim(%q) = %v, expected %v", tt.input, result, tt.expected)
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("splitAndTrim(%q)[%d] = %q, expected %q", tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("HTTP port override", func(t *testing.T) {
		t.Setenv("SOAR_HTTP_PORT", "9000")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Server.HTTPPort != 9000 {
			t.Errorf("expected HTTPPort 9000, got %d", cfg.Server.HTTPPort)
		}
	})

	t.Run("log level override", func(t *testing.T) {
		t.Setenv("SOAR_LOG_LEVEL", "debug")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
		}
	})

	t.Run("API key override", func(t *testing.T) {
		t.Setenv("SOAR_API_KEY", "test-key-123")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if !cfg.Auth.Enabled {
			t.Error("expected Auth.Enabled to be true when API key is set")
		}
		if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "test-key-123" {
			t.Errorf("expected API key to be added, got %v", cfg.Auth.APIKeys)
		}
	})

	t.Run("redis addr selects redis store", func(t *testing.T) {
		t.Setenv("SOAR_REDIS_ADDR", "redis:6379")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Store.Backend != StoreRedis || cfg.Store.Redis.Addr != "redis:6379" {
			t.Errorf("expected redis store at redis:6379, got %s %s", cfg.Store.Backend, cfg.Store.Redis.Addr)
		}
	})

	t.Run("kafka brokers enable kafka", func(t *testing.T) {
		t.Setenv("SOAR_KAFKA_BROKERS", "k1:9092, k2:9092")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
			t.Errorf("unexpected kafka config: enabled=%v brokers=%v", cfg.Kafka.Enabled, cfg.Kafka.Brokers)
		}
	})

	t.Run("clickhouse host selects clickhouse source", func(t *testing.T) {
		t.Setenv("CLICKHOUSE_HOST", "ch:9000")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Correlation.EventSource != EventSourceClickHouse {
			t.Errorf("expected clickhouse event source, got %s", cfg.Correlation.EventSource)
		}
		if len(cfg.ClickHouse.Hosts) != 1 || cfg.ClickHouse.Hosts[0] != "ch:9000" {
			t.Errorf("unexpected hosts %v", cfg.ClickHouse.Hosts)
		}
	})

	t.Run("rate limit disabled override", func(t *testing.T) {
		t.Setenv("SOAR_RATELIMIT_ENABLED", "false")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.RateLimit.Enabled {
			t.Error("expected RateLimit.Enabled to be false")
		}
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soar.yaml")
	data := `
server:
  http_port: 9090
engine:
  alert_timeout: 2m
correlation:
  enabled: true
  interval: 30s
  query_timeout: 5s
  event_source: memory
store:
  backend: redis
  redis:
    addr: cache:6379
    key_prefix: "soar:"
dispatch:
  max_attempts: 5
  routes:
    escalate_to_soc: [soc-webhook]
  webhooks:
    - name: soc-webhook
      url: https://soc.example.com/hooks/soar
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected default read timeout to survive, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Engine.AlertTimeout != 2*time.Minute {
		t.Errorf("expected alert timeout 2m, got %v", cfg.Engine.AlertTimeout)
	}
	if cfg.Correlation.Interval != 30*time.Second || cfg.Correlation.QueryTimeout != 5*time.Second {
		t.Errorf("unexpected correlation timings %v %v", cfg.Correlation.Interval, cfg.Correlation.QueryTimeout)
	}
	if cfg.Store.Backend != StoreRedis || cfg.Store.Redis.Addr != "cache:6379" {
		t.Errorf("unexpected store %+v", cfg.Store)
	}
	if cfg.Store.Redis.PoolSize != 10 {
		t.Errorf("expected default pool size to survive, got %d", cfg.Store.Redis.PoolSize)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Dispatch.MaxAttempts)
	}
	if got := cfg.Dispatch.Routes["escalate_to_soc"]; len(got) != 1 || got[0] != "soc-webhook" {
		t.Errorf("unexpected routes %v", cfg.Dispatch.Routes)
	}
	if len(cfg.Dispatch.Webhooks) != 1 {
		t.Errorf("expected one webhook channel, got %d", len(cfg.Dispatch.Webhooks))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should be valid: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFile_ResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "redis_password"), []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOAR_TICKET_TOKEN", "Bearer abc")
	t.Setenv("SOAR_PRIMARY_KEY", "key-from-env")

	path := filepath.Join(dir, "soar.yaml")
	data := `
secrets:
  dir: ` + dir + `
  env_prefix: SOAR_
auth:
  enabled: true
  api_keys: ["env:primary_key", "literal-key"]
store:
  redis:
    password: file:redis/password
dispatch:
  webhooks:
    - name: tickets
      url: https://tickets.example.com/hook
      headers:
        Authorization: env:ticket_token
        X-Source: boundary-soar
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Redis.Password != "from-file" {
		t.Errorf("redis password = %q", cfg.Store.Redis.Password)
	}
	if got := cfg.Auth.APIKeys; len(got) != 2 || got[0] != "key-from-env" || got[1] != "literal-key" {
		t.Errorf("api keys = %v", got)
	}
	headers := cfg.Dispatch.Webhooks[0].Headers
	if headers["Authorization"] != "Bearer abc" || headers["X-Source"] != "boundary-soar" {
		t.Errorf("webhook headers = %v", headers)
	}
}

func TestLoadFile_MissingSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soar.yaml")
	data := "clickhouse:\n  password: env:SOAR_TEST_UNSET_SECRET_XYZ\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unresolvable secret reference")
	}
}
