package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels translations that produced a query.
	OutcomeSuccess = "success"
	// OutcomeNoMatch labels phrases no rule could translate.
	OutcomeNoMatch = "no_match"
	// OutcomeError labels internal translation failures.
	OutcomeError = "error"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assistant",
			Name:      "translations_total",
			Help:      "Total number of translation requests, partitioned by outcome and selected rule.",
		},
		[]string{"outcome", "rule"},
	)

	translationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "promql_assistant",
			Name:      "translation_seconds",
			Help:      "Translation latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
	)

	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assistant",
			Name:      "backend_requests_total",
			Help:      "Requests sent to the Prometheus backend, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assistant",
			Name:      "cache_operations_total",
			Help:      "Translation cache operations, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assistant",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, partitioned by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promql_assistant",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		translationsTotal,
		translationDurationSeconds,
		backendRequestsTotal,
		cacheOpsTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTranslation records one translation attempt. The rule label is empty
// when no rule fired.
func ObserveTranslation(duration time.Duration, outcome, rule string) {
	if rule == "" {
		rule = "none"
	}
	translationsTotal.WithLabelValues(outcome, rule).Inc()
	if duration < 0 {
		duration = 0
	}
	translationDurationSeconds.Observe(duration.Seconds())
}

// ObserveBackendRequest records one backend API call
func ObserveBackendRequest(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	backendRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveCacheOp records one cache operation. A miss is not an error.
func ObserveCacheOp(operation, outcome string) {
	cacheOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTPRequest records one served HTTP request
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusBucket(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// statusBucket collapses status codes into their class to bound cardinality
func statusBucket(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
