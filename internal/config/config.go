package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// Config holds all application configuration
type Config struct {
	// Backend is the Prometheus-compatible query API
	Backend BackendConfig `yaml:"backend"`

	// Server configuration for serve mode
	Server ServerConfig `yaml:"server"`

	// Cache holds Redis translation cache settings
	Cache CacheConfig `yaml:"cache"`

	// History holds PostgreSQL translation history settings
	History HistoryConfig `yaml:"history"`

	// Rules points at an optional user rule pack
	Rules RulesConfig `yaml:"rules"`

	// Catalog names the metrics the built-in rules lean on
	Catalog CatalogConfig `yaml:"catalog"`
}

// BackendConfig holds Prometheus backend connection settings
type BackendConfig struct {
	URL         string        `yaml:"url"`
	AuthType    string        `yaml:"authType"` // "none", "basic", "bearer"
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	BearerToken string        `yaml:"bearerToken"`
	TenantID    string        `yaml:"tenantId"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string `yaml:"port"`
	GinMode     string `yaml:"ginMode"`
	BearerToken string `yaml:"bearerToken"` // empty disables auth
}

// CacheConfig holds Redis configuration for the translation cache
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// HistoryConfig holds PostgreSQL configuration for translation history
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
}

// DSN builds the lib/pq connection string
func (h HistoryConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		h.Host, h.Port, h.Database, h.Username, h.Password, h.SSLMode)
}

// RulesConfig holds rule pack configuration
type RulesConfig struct {
	PackPath string `yaml:"packPath"`
}

// CatalogConfig maps abstract metric roles to concrete metric names
type CatalogConfig struct {
	RequestsMetric string `yaml:"requestsMetric"`
	LatencyMetric  string `yaml:"latencyMetric"`
	ServiceLabel   string `yaml:"serviceLabel"`
}

// Path returns the per-user config file location, honoring XDG_CONFIG_HOME
func Path() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "promql-assistant", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "promql-assistant.yaml")
	}
	return filepath.Join(home, ".config", "promql-assistant", "config.yaml")
}

// Defaults returns the configuration used when nothing else is set
func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:      "http://localhost:9090",
			AuthType: "none",
			Timeout:  30 * time.Second,
		},
		Server: ServerConfig{
			Port:    "8080",
			GinMode: "release",
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  5 * time.Minute,
		},
		History: HistoryConfig{
			Host:     "localhost",
			Port:     "5432",
			Database: "promql_assistant",
			Username: "promql_assistant",
			SSLMode:  "disable",
		},
		Catalog: CatalogConfig{
			RequestsMetric: "http_requests_total",
			LatencyMetric:  "http_request_duration_seconds_bucket",
			ServiceLabel:   "service",
		},
	}
}

// Loader resolves configuration from the config file and a secret provider
// chain. File values override defaults; provider values override the file.
type Loader struct {
	provider SecretProvider
	filePath string
}

// NewLoader creates a loader with an explicit provider and config file path
func NewLoader(provider SecretProvider, filePath string) *Loader {
	return &Loader{provider: provider, filePath: filePath}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. File-based secrets under /var/secrets (container secret mounts)
// 2. Environment variables
func NewDefaultLoader() *Loader {
	return &Loader{
		provider: NewChainProvider(
			NewFileProvider("/var/secrets"),
			NewEnvProvider(),
		),
		filePath: Path(),
	}
}

// Load resolves the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := Defaults()

	if err := l.loadFile(cfg); err != nil {
		return nil, err
	}

	cfg.Backend = BackendConfig{
		URL:         l.getString(ctx, "PROMQL_BACKEND_URL", cfg.Backend.URL),
		AuthType:    l.getString(ctx, "PROMQL_BACKEND_AUTH_TYPE", cfg.Backend.AuthType),
		Username:    l.getString(ctx, "PROMQL_BACKEND_USERNAME", cfg.Backend.Username),
		Password:    l.getString(ctx, "PROMQL_BACKEND_PASSWORD", cfg.Backend.Password),
		BearerToken: l.getString(ctx, "PROMQL_BACKEND_BEARER_TOKEN", cfg.Backend.BearerToken),
		TenantID:    l.getString(ctx, "PROMQL_BACKEND_TENANT_ID", cfg.Backend.TenantID),
		Timeout:     l.getDuration(ctx, "PROMQL_BACKEND_TIMEOUT", cfg.Backend.Timeout),
	}

	cfg.Server = ServerConfig{
		Port:        l.getString(ctx, "PROMQL_SERVER_PORT", cfg.Server.Port),
		GinMode:     l.getString(ctx, "GIN_MODE", cfg.Server.GinMode),
		BearerToken: l.getString(ctx, "PROMQL_SERVER_BEARER_TOKEN", cfg.Server.BearerToken),
	}

	cfg.Cache = CacheConfig{
		Enabled:  l.getBool(ctx, "PROMQL_CACHE_ENABLED", cfg.Cache.Enabled),
		Addr:     l.getString(ctx, "PROMQL_CACHE_ADDR", cfg.Cache.Addr),
		Password: l.getString(ctx, "PROMQL_CACHE_PASSWORD", cfg.Cache.Password),
		DB:       l.getInt(ctx, "PROMQL_CACHE_DB", cfg.Cache.DB),
		TTL:      l.getDuration(ctx, "PROMQL_CACHE_TTL", cfg.Cache.TTL),
	}

	cfg.History = HistoryConfig{
		Enabled:  l.getBool(ctx, "PROMQL_HISTORY_ENABLED", cfg.History.Enabled),
		Host:     l.getString(ctx, "PROMQL_HISTORY_HOST", cfg.History.Host),
		Port:     l.getString(ctx, "PROMQL_HISTORY_PORT", cfg.History.Port),
		Database: l.getString(ctx, "PROMQL_HISTORY_DB", cfg.History.Database),
		Username: l.getString(ctx, "PROMQL_HISTORY_USER", cfg.History.Username),
		Password: l.getString(ctx, "PROMQL_HISTORY_PASSWORD", cfg.History.Password),
		SSLMode:  l.getString(ctx, "PROMQL_HISTORY_SSLMODE", cfg.History.SSLMode),
	}

	cfg.Rules.PackPath = l.getString(ctx, "PROMQL_RULE_PACK", cfg.Rules.PackPath)

	cfg.Catalog = CatalogConfig{
		RequestsMetric: l.getString(ctx, "PROMQL_CATALOG_REQUESTS_METRIC", cfg.Catalog.RequestsMetric),
		LatencyMetric:  l.getString(ctx, "PROMQL_CATALOG_LATENCY_METRIC", cfg.Catalog.LatencyMetric),
		ServiceLabel:   l.getString(ctx, "PROMQL_CATALOG_SERVICE_LABEL", cfg.Catalog.ServiceLabel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile overlays the YAML config file, if present
func (l *Loader) loadFile(cfg *Config) error {
	if l.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apperrors.NewInvalidConfigError(err, fmt.Sprintf("config file: %s", l.filePath))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return apperrors.NewInvalidConfigError(err, fmt.Sprintf("config file: %s", l.filePath))
	}
	return nil
}

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// MustLoad loads configuration and panics on error.
// Useful for application startup.
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
