package promapi

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// BreakerConfig tunes the circuit breaker guarding backend calls
type BreakerConfig struct {
	MaxRequests   uint32        // requests allowed through in half-open state
	Interval      time.Duration // window for counting failures
	Timeout       time.Duration // how long the circuit stays open
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultBreakerConfig trips after sustained failures rather than one-offs
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests: 1,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
	},
}

// BreakerClient wraps a Client so that a misbehaving backend stops receiving
// traffic instead of stalling every caller. Validation failures count as
// successes for the breaker: the backend answered, it just disliked the query.
type BreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps client with a named circuit breaker
func NewBreakerClient(client *Client, name string, config BreakerConfig) *BreakerClient {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
	}
	settings.IsSuccessful = func(err error) bool {
		return err == nil || apperrors.HasCode(err, apperrors.ErrCodeQueryValidation)
	}

	return &BreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// BaseURL returns the wrapped client's backend URL
func (b *BreakerClient) BaseURL() string {
	return b.client.BaseURL()
}

func (b *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendUnreachable, "Prometheus backend unavailable").
				WithSuggestion("The backend has been failing; wait for recovery or use --dry-run.")
		}
		return nil, err
	}
	return result, nil
}

// Query executes an instant query through the breaker
func (b *BreakerClient) Query(ctx context.Context, query string, ts time.Time) (*Result, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.Query(ctx, query, ts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// QueryRange executes a range query through the breaker
func (b *BreakerClient) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*Result, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.QueryRange(ctx, query, start, end, step)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// Validate checks a query through the breaker
func (b *BreakerClient) Validate(ctx context.Context, query string) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.client.Validate(ctx, query)
	})
	return err
}

// MetricNames lists metric names through the breaker
func (b *BreakerClient) MetricNames(ctx context.Context) ([]string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.MetricNames(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// LabelNames lists label names through the breaker
func (b *BreakerClient) LabelNames(ctx context.Context) ([]string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.LabelNames(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// LabelValues lists label values through the breaker
func (b *BreakerClient) LabelValues(ctx context.Context, label string, matchers ...string) ([]string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.LabelValues(ctx, label, matchers...)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Ping checks connectivity through the breaker
func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.client.Ping(ctx)
	})
	return err
}

// State returns the breaker's current state
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}
