package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// TestNewTableValidatesTemplates tests that malformed rules fail at
// construction time, not at translation time
func TestNewTableValidatesTemplates(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr string
	}{
		{
			name:    "missing id",
			rule:    Rule{Template: `up`},
			wantErr: "missing id",
		},
		{
			name:    "missing template",
			rule:    Rule{ID: "r1"},
			wantErr: "missing template",
		},
		{
			name:    "unknown placeholder",
			rule:    Rule{ID: "r1", Template: `rate({metrics}[{range}])`, Requires: Requires{Metric: true}},
			wantErr: "unknown placeholder {metrics}",
		},
		{
			name:    "unknown placeholder in rationale",
			rule:    Rule{ID: "r1", Template: `up`, Rationale: "uses {bogus}"},
			wantErr: "unknown placeholder {bogus}",
		},
		{
			name:    "metric placeholder without requirement",
			rule:    Rule{ID: "r1", Template: `rate({metric}[{range}])`},
			wantErr: "does not require one",
		},
		{
			name:    "quantile placeholder without quantile requirement",
			rule:    Rule{ID: "r1", Template: `histogram_quantile({quantile}, up)`},
			wantErr: "quantile operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable([]Rule{tt.rule})
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRule))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestNewTableRejectsDuplicateIDs tests duplicate rule id detection
func TestNewTableRejectsDuplicateIDs(t *testing.T) {
	_, err := NewTable([]Rule{
		{ID: "r1", Template: `up`},
		{ID: "r1", Template: `up`},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

// TestDefaultRulesAreValid tests that the builtin table constructs cleanly
func TestDefaultRulesAreValid(t *testing.T) {
	table, err := NewTable(DefaultRules())

	require.NoError(t, err)
	require.NotNil(t, table)
	assert.NotEmpty(t, table.Rules())
}

// TestMatchOrdering tests ranking by priority with definition order as the
// stable tie-break
func TestMatchOrdering(t *testing.T) {
	rules := []Rule{
		{ID: "low", Priority: 1, Template: `up`},
		{ID: "first_of_tie", Priority: 10, Template: `up`},
		{ID: "second_of_tie", Priority: 10, Template: `up`},
		{ID: "high", Priority: 20, Template: `up`},
	}
	table, err := NewTable(rules)
	require.NoError(t, err)

	matches := table.Match(&EntitySet{})

	require.Len(t, matches, 4)
	assert.Equal(t, "high", matches[0].Rule.ID)
	assert.Equal(t, "first_of_tie", matches[1].Rule.ID)
	assert.Equal(t, "second_of_tie", matches[2].Rule.ID)
	assert.Equal(t, "low", matches[3].Rule.ID)
}

// TestMatchPredicates tests the required-entity predicate over presence and
// kind, not values
func TestMatchPredicates(t *testing.T) {
	metric := &MetricRef{Name: "checkout_service"}
	quantile := &StatOp{Kind: StatQuantile, Percentile: 95}

	tests := []struct {
		name     string
		requires Requires
		entities *EntitySet
		want     bool
	}{
		{
			name:     "no requirements always match",
			requires: Requires{},
			entities: &EntitySet{},
			want:     true,
		},
		{
			name:     "metric required and present",
			requires: Requires{Metric: true},
			entities: &EntitySet{Metric: metric},
			want:     true,
		},
		{
			name:     "metric required and absent",
			requires: Requires{Metric: true},
			entities: &EntitySet{},
			want:     false,
		},
		{
			name:     "stat kind must match exactly",
			requires: Requires{Stat: StatErrorRate},
			entities: &EntitySet{Stat: quantile},
			want:     false,
		},
		{
			name:     "grouping required and present",
			requires: Requires{GroupBy: true},
			entities: &EntitySet{GroupBy: []string{"namespace"}},
			want:     true,
		},
		{
			name:     "grouping required and absent",
			requires: Requires{GroupBy: true},
			entities: &EntitySet{},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.requires.SatisfiedBy(tt.entities))
		})
	}
}

// TestMatchIsNonExclusive tests that every satisfied rule is returned, not
// just the winner
func TestMatchIsNonExclusive(t *testing.T) {
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	entities := &EntitySet{
		Metric:  &MetricRef{Name: "checkout_service"},
		Stat:    &StatOp{Kind: StatQuantile, Percentile: 95},
		GroupBy: []string{"namespace"},
	}

	matches := table.Match(entities)

	require.GreaterOrEqual(t, len(matches), 3)
	assert.Equal(t, "latency_quantile_by", matches[0].Rule.ID)
	assert.Equal(t, "latency_quantile", matches[1].Rule.ID)
	assert.Equal(t, "metric_rate", matches[len(matches)-1].Rule.ID)
}

// TestMatchEmptyEntitySet tests that an empty set matches nothing in the
// builtin table (an empty sequence, never an error)
func TestMatchEmptyEntitySet(t *testing.T) {
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	matches := table.Match(&EntitySet{})

	assert.Empty(t, matches)
}
