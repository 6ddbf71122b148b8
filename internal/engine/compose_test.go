package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

func composeFixture(t *testing.T) (*Composer, *Table) {
	t.Helper()
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)
	return NewComposer(DefaultCatalog()), table
}

// TestComposeNoMatch tests the NO_MATCH failure path
func TestComposeNoMatch(t *testing.T) {
	composer, _ := composeFixture(t)

	_, err := composer.Compose("asdkjasd", &EntitySet{}, nil, nil)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoMatch))
}

// TestComposeQuantileLatency tests the canonical p95 scenario end to end
// through matching and composition
func TestComposeQuantileLatency(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{
		Metric: &MetricRef{Name: "checkout_service"},
		Stat:   &StatOp{Kind: StatQuantile, Percentile: 95},
		Range:  &TimeRange{Seconds: 3600},
	}

	tr, err := composer.Compose("p95 latency of checkout_service last 1h", entities, table.Match(entities), nil)

	require.NoError(t, err)
	assert.Equal(t,
		`histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{service="checkout_service"}[1h])) by (le))`,
		tr.Query)
	assert.Equal(t, "latency_quantile", tr.RuleID)
	require.NotEmpty(t, tr.Trace)
	assert.Equal(t, "latency_quantile", tr.Trace[0].RuleID)
	assert.Contains(t, tr.Trace[0].Rationale, "p95 latency of checkout_service")
	assert.Equal(t, "checkout_service", tr.Trace[0].Bindings["metric"])
	assert.Equal(t, "0.95", tr.Trace[0].Bindings["quantile"])
	assert.Equal(t, "1h", tr.Trace[0].Bindings["range"])
	// Explicit range: no default entry follows the selection entry
	assert.Len(t, tr.Trace, 1)
}

// TestComposeRangeDefault tests that an absent range defaults to 5m and the
// default lands in the trace
func TestComposeRangeDefault(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{Metric: &MetricRef{Name: "checkout_service"}}

	tr, err := composer.Compose("latency of checkout_service", entities, table.Match(entities), nil)

	require.NoError(t, err)
	assert.Equal(t, `rate(checkout_service[5m])`, tr.Query)
	assert.Equal(t, "metric_rate", tr.RuleID)
	require.Len(t, tr.Trace, 2)
	assert.Contains(t, tr.Trace[1].Rationale, "defaulted to 5m")
	assert.Equal(t, "5m", tr.Trace[1].Bindings["range"])
}

// TestComposeErrorRateCatalogFallback tests the documented policy for a
// stat operator with grouping but no extractable metric name: the catalog
// request counter is substituted and recorded as a default
func TestComposeErrorRateCatalogFallback(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{
		Stat:    &StatOp{Kind: StatErrorRate},
		GroupBy: []string{"namespace"},
		Range:   &TimeRange{Seconds: 1800},
	}

	tr, err := composer.Compose("error rate by namespace last 30m", entities, table.Match(entities), nil)

	require.NoError(t, err)
	assert.Equal(t,
		`sum(rate(http_requests_total{status=~"5.."}[30m])) by (namespace) / sum(rate(http_requests_total[30m])) by (namespace)`,
		tr.Query)
	assert.Equal(t, "error_rate_by", tr.RuleID)
	require.Len(t, tr.Trace, 2)
	assert.Contains(t, tr.Trace[1].Rationale, "http_requests_total")
	assert.Equal(t, "http_requests_total", tr.Trace[1].Bindings["requests_metric"])
}

// TestComposeFilters tests label filters merged into the selector, with the
// service filter injected first for histogram rules
func TestComposeFilters(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{
		Metric:  &MetricRef{Name: "checkout_service"},
		Stat:    &StatOp{Kind: StatQuantile, Percentile: 99},
		Filters: []LabelFilter{{Key: "cluster", Value: "prod"}},
		Range:   &TimeRange{Seconds: 300},
	}

	tr, err := composer.Compose("p99 latency of checkout_service where cluster=prod last 5m", entities, table.Match(entities), nil)

	require.NoError(t, err)
	assert.Equal(t,
		`histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket{service="checkout_service",cluster="prod"}[5m])) by (le))`,
		tr.Query)
}

// TestComposeWarningsPropagate tests that extraction warnings surface on the
// Translation rather than failing it
func TestComposeWarningsPropagate(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{
		Metric: &MetricRef{Name: "http_requests_total"},
		Stat:   &StatOp{Kind: StatSum},
	}

	tr, err := composer.Compose("phrase", entities, table.Match(entities), []string{"ambiguous operator: found \"rate\" after \"sum\"; using leftmost"})

	require.NoError(t, err)
	require.Len(t, tr.Warnings, 1)
	assert.Contains(t, tr.Warnings[0], "ambiguous operator")
}

// TestComposeInvalidOutput tests the internal consistency check against a
// deliberately broken rule template
func TestComposeInvalidOutput(t *testing.T) {
	broken := Rule{
		ID:       "broken",
		Priority: 99,
		Requires: Requires{Metric: true},
		Template: `rate(({metric}[{range}])`,
	}
	table, err := NewTable([]Rule{broken})
	require.NoError(t, err)
	composer := NewComposer(DefaultCatalog())
	entities := &EntitySet{Metric: &MetricRef{Name: "up_total"}}

	_, err = composer.Compose("phrase", entities, table.Match(entities), nil)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidOutput))
	assert.Contains(t, err.Error(), "broken")
}

// TestComposeBracketlessTemplate tests that a template rendering valid
// PromQL without a brace or bracket selector passes the consistency check
func TestComposeBracketlessTemplate(t *testing.T) {
	bare := Rule{
		ID:       "instance_count",
		Priority: 99,
		Requires: Requires{Metric: true, Stat: StatSum},
		Role:     MetricSelector,
		Template: `sum({metric})`,
	}
	table, err := NewTable([]Rule{bare})
	require.NoError(t, err)
	composer := NewComposer(DefaultCatalog())
	entities := &EntitySet{
		Metric: &MetricRef{Name: "up"},
		Stat:   &StatOp{Kind: StatSum},
	}

	tr, err := composer.Compose("sum of up", entities, table.Match(entities), nil)

	require.NoError(t, err)
	assert.Equal(t, `sum(up)`, tr.Query)
}

// TestComposeDeterminism tests byte-identical output for identical inputs
func TestComposeDeterminism(t *testing.T) {
	composer, table := composeFixture(t)
	entities := &EntitySet{
		Stat:    &StatOp{Kind: StatErrorRate},
		GroupBy: []string{"namespace", "pod"},
		Filters: []LabelFilter{{Key: "cluster", Value: "prod"}},
	}

	first, err := composer.Compose("phrase", entities, table.Match(entities), nil)
	require.NoError(t, err)
	second, err := composer.Compose("phrase", entities, table.Match(entities), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Query, second.Query)
	assert.Equal(t, first.Trace, second.Trace)
}

// TestPromDuration tests compact duration rendering
func TestPromDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{30, "30s"},
		{300, "5m"},
		{3600, "1h"},
		{5400, "90m"},
		{86400, "1d"},
		{604800, "1w"},
		{90, "90s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeRange{Seconds: tt.seconds}.PromDuration())
	}
}

// TestCheckBalanced tests the delimiter checker, including braces inside
// quoted strings
func TestCheckBalanced(t *testing.T) {
	assert.Empty(t, checkBalanced(`sum(rate(m{a="b"}[5m]))`))
	assert.Empty(t, checkBalanced(`m{a="{not a brace}"}`))
	assert.NotEmpty(t, checkBalanced(`sum(rate(m[5m])`))
	assert.NotEmpty(t, checkBalanced(`m{a="b"}]`))
}

// TestHasSelector tests metric-selector detection over rendered queries
func TestHasSelector(t *testing.T) {
	assert.True(t, hasSelector(`sum(rate(http_requests_total[5m]))`))
	assert.True(t, hasSelector(`up{job="api"}`))
	assert.True(t, hasSelector(`sum(up)`))
	assert.True(t, hasSelector(`sum(up) by (code)`))
	assert.False(t, hasSelector(`rate(()[5m])`))
	assert.False(t, hasSelector(`()`))
}
