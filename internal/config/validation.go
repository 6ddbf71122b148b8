package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

var metricNameRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
var labelNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the configuration for values that would fail at first use.
// It collects every problem instead of stopping at the first one.
func (c *Config) Validate() error {
	var problems []string

	if c.Backend.URL == "" {
		problems = append(problems, "backend URL is required")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("backend URL %q is not a valid URL", c.Backend.URL))
	}

	switch c.Backend.AuthType {
	case "", "none":
	case "basic":
		if c.Backend.Username == "" || c.Backend.Password == "" {
			problems = append(problems, "basic auth requires a username and password")
		}
	case "bearer":
		if c.Backend.BearerToken == "" {
			problems = append(problems, "bearer auth requires a token")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown auth type %q (want none, basic or bearer)", c.Backend.AuthType))
	}

	if c.Backend.Timeout < 0 {
		problems = append(problems, "backend timeout must not be negative")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("server port %q is not a valid port number", c.Server.Port))
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		problems = append(problems, "cache is enabled but no address is configured")
	}
	if c.Cache.TTL < 0 {
		problems = append(problems, "cache TTL must not be negative")
	}

	if c.History.Enabled {
		if c.History.Host == "" || c.History.Database == "" {
			problems = append(problems, "history is enabled but host or database is missing")
		}
	}

	if !metricNameRe.MatchString(c.Catalog.RequestsMetric) {
		problems = append(problems, fmt.Sprintf("catalog requests metric %q is not a valid metric name", c.Catalog.RequestsMetric))
	}
	if !metricNameRe.MatchString(c.Catalog.LatencyMetric) {
		problems = append(problems, fmt.Sprintf("catalog latency metric %q is not a valid metric name", c.Catalog.LatencyMetric))
	}
	if !labelNameRe.MatchString(c.Catalog.ServiceLabel) {
		problems = append(problems, fmt.Sprintf("catalog service label %q is not a valid label name", c.Catalog.ServiceLabel))
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "Invalid configuration").
			WithDetails(strings.Join(problems, "; "))
	}
	return nil
}
