package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider. Keys are looked up with
// prefix first, then as given.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (e *EnvProvider) Name() string {
	return "environment"
}

func (e *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	if e.prefix != "" {
		if v := os.Getenv(normalizeEnvKey(e.prefix, key)); v != "" {
			return v, nil
		}
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", ErrSecretNotFound
}

// normalizeEnvKey converts a key to an upper-case variable name carrying
// prefix, e.g. "redis.password" -> "SOAR_REDIS_PASSWORD".
func normalizeEnvKey(prefix, key string) string {
	name := strings.ToUpper(key)
	name = strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(name)
	if !strings.HasPrefix(name, prefix) {
		name = prefix + name
	}
	return name
}
