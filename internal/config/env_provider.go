package config

import (
	"context"
	"os"
)

// EnvProvider reads configuration values from environment variables. It is
// the last link of the default chain, so a mounted secret file with the same
// key wins over the environment.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// GetSecret reads the variable named key. An unset variable is returned as
// an empty value, which the chain treats as "not found".
func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return os.Getenv(key), nil
}

// Name returns the provider name
func (e *EnvProvider) Name() string {
	return "env"
}

// IsAvailable always returns true; the environment is always readable
func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}
