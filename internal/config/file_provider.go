package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets mounted as individual files, one file per key,
// the way Kubernetes secret volumes expose them.
// Example: /var/secrets/promql-backend-password
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider reading from dir (e.g. "/var/secrets")
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// fileName maps a lookup key to its mounted file name:
// PROMQL_BACKEND_PASSWORD -> promql-backend-password
func fileName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

// GetSecret reads the file for key. A missing file is not an error; the
// chain falls through to the next provider. Trailing newlines, common in
// mounted secrets, are stripped.
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if f.dir == "" {
		return "", fmt.Errorf("secrets directory not configured")
	}

	path := filepath.Join(f.dir, fileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Name returns the provider name
func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether the secrets directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.dir == "" {
		return false
	}
	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}
