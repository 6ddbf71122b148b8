package config

import (
	"context"
	"fmt"
)

// SecretProvider resolves configuration values that should not live in the
// YAML config file, such as backend passwords and bearer tokens.
type SecretProvider interface {
	// GetSecret retrieves a value by key, e.g. PROMQL_BACKEND_PASSWORD
	GetSecret(ctx context.Context, key string) (string, error)

	// Name identifies the provider in logs
	Name() string

	// IsAvailable reports whether this provider can serve lookups
	IsAvailable(ctx context.Context) bool
}

// ChainProvider tries a sequence of providers in order. The first non-empty
// value wins, so mounted secrets override plain environment variables when
// both are configured.
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider creates a chain over the given providers
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
	}
}

// GetSecret tries each available provider until one returns a value
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var lastErr error

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}

		value, err := provider.GetSecret(ctx, key)
		if err == nil && value != "" {
			return value, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return "", fmt.Errorf("no available provider found for key: %s", key)
}

// Name returns the chain provider name
func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}
