// Package secrets resolves secret references in configuration values.
// A value of the form "env:NAME" or "file:name" is looked up through the
// matching provider; any other value is used as-is.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSecretNotFound is returned when a provider has no value for a key.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrUnknownProvider is returned for a reference naming an unconfigured provider.
	ErrUnknownProvider = errors.New("unknown secret provider")
)

// Provider schemes.
const (
	SchemeEnv  = "env"
	SchemeFile = "file"
)

// Provider looks up secrets by key.
type Provider interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
}

// Config configures a Manager.
type Config struct {
	// Dir is the base directory for relative file references.
	Dir string `yaml:"dir"`
	// EnvPrefix is tried before the bare name for env references.
	EnvPrefix string        `yaml:"env_prefix"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default secrets configuration.
func DefaultConfig() Config {
	return Config{
		Dir:       "/etc/soar/secrets",
		EnvPrefix: "SOAR_",
		CacheTTL:  5 * time.Minute,
	}
}

// Manager resolves references through its providers and caches results.
type Manager struct {
	providers map[string]Provider
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedSecret
	now   func() time.Time
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// NewManager creates a manager with the env and file providers.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		providers: make(map[string]Provider),
		ttl:       cfg.CacheTTL,
		logger:    logger,
		cache:     make(map[string]cachedSecret),
		now:       time.Now,
	}
	m.AddProvider(SchemeEnv, NewEnvProvider(cfg.EnvPrefix))
	m.AddProvider(SchemeFile, NewFileProvider(cfg.Dir))
	return m
}

// AddProvider registers p under scheme, replacing any existing provider.
func (m *Manager) AddProvider(scheme string, p Provider) {
	m.providers[scheme] = p
}

// ParseSecretRef splits a reference into scheme and key. Values without a
// known scheme prefix are literals and return an empty scheme.
func ParseSecretRef(ref string) (scheme, key string) {
	for _, s := range []string{SchemeEnv, SchemeFile} {
		if rest, ok := strings.CutPrefix(ref, s+":"); ok {
			return s, rest
		}
	}
	return "", ref
}

// IsRef reports whether value is a secret reference.
func IsRef(value string) bool {
	scheme, _ := ParseSecretRef(value)
	return scheme != ""
}

// Resolve returns the secret a reference points to, or ref itself when it
// is a literal.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, key := ParseSecretRef(ref)
	if scheme == "" {
		return ref, nil
	}
	if v, ok := m.cached(ref); ok {
		return v, nil
	}

	p, ok := m.providers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, scheme)
	}
	v, err := p.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret %q: %w", p.Name(), key, err)
	}

	m.mu.Lock()
	m.cache[ref] = cachedSecret{value: v, fetchedAt: m.now()}
	m.mu.Unlock()
	m.logger.Debug("secret resolved", "provider", p.Name(), "key", key)
	return v, nil
}

// ResolveAll resolves every referenced value in place. It stops at the
// first failure.
func (m *Manager) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		if v == nil || !IsRef(*v) {
			continue
		}
		resolved, err := m.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

func (m *Manager) cached(ref string) (string, bool) {
	if m.ttl <= 0 {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cache[ref]
	if !ok || m.now().Sub(c.fetchedAt) > m.ttl {
		return "", false
	}
	return c.value, true
}

// ClearCache drops all cached values.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]cachedSecret)
}
