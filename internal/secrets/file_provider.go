package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets from files, as mounted by Docker or
// Kubernetes secrets.
type FileProvider struct {
	baseDir string
}

// NewFileProvider creates a file provider. Relative keys are read from
// baseDir; absolute keys are read as paths.
func NewFileProvider(baseDir string) *FileProvider {
	return &FileProvider{baseDir: baseDir}
}

func (f *FileProvider) Name() string {
	return "file"
}

func (f *FileProvider) Get(ctx context.Context, key string) (string, error) {
	path := key
	if !filepath.IsAbs(key) {
		path = filepath.Join(f.baseDir, keyToFilename(key))
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// keyToFilename maps a key to a flat file name, e.g.
// "redis/password" -> "redis_password".
func keyToFilename(key string) string {
	name := strings.NewReplacer("/", "_", ".", "_", "-", "_").Replace(key)
	return strings.ToLower(name)
}
