package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of probing one dependency
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// HealthCheckFunc probes one dependency
type HealthCheckFunc func(context.Context) *HealthCheck

// HealthChecker runs registered dependency probes, caching results briefly so
// an aggressive poller cannot hammer the dependencies themselves.
type HealthChecker struct {
	checks map[string]HealthCheckFunc
	cache  map[string]*HealthCheck
	mu     sync.Mutex
	ttl    time.Duration
}

// NewHealthChecker creates a health checker with a 5s result cache
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]HealthCheckFunc),
		cache:  make(map[string]*HealthCheck),
		ttl:    5 * time.Second,
	}
}

// Register registers a named health check
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check runs all health checks, serving cached results inside the TTL
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	results := make(map[string]*HealthCheck)
	now := time.Now()

	for name, checkFunc := range hc.checks {
		if cached, exists := hc.cache[name]; exists && now.Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}

		result := checkFunc(ctx)
		result.LastChecked = time.Now()
		hc.cache[name] = result
		results[name] = result
	}

	return results
}

// HealthResponse is the body of the /health endpoint
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
}

// GetHealthResponse runs every check and folds them into an overall status
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)

	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return &HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// BackendHealthCheck probes the Prometheus backend. The backend being down
// makes the service unhealthy for query execution but translation still
// works, so the status is degraded.
func BackendHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return probe("backend", HealthStatusDegraded, 5*time.Second, pingFunc)
}

// CacheHealthCheck probes the Redis translation cache
func CacheHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return probe("cache", HealthStatusDegraded, 2*time.Second, pingFunc)
}

// HistoryHealthCheck probes the translation history database
func HistoryHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return probe("history", HealthStatusDegraded, 2*time.Second, pingFunc)
}

func probe(name string, failStatus HealthStatus, timeout time.Duration, pingFunc func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := pingFunc(ctx)
		duration := time.Since(start)

		if err != nil {
			return &HealthCheck{
				Name:     name,
				Status:   failStatus,
				Message:  fmt.Sprintf("%s check failed: %v", name, err),
				Duration: duration,
			}
		}

		return &HealthCheck{
			Name:     name,
			Status:   HealthStatusHealthy,
			Duration: duration,
		}
	}
}
