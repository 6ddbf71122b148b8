package engine

import (
	"fmt"
	"regexp"
	"sort"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// MetricRole controls how a rule consumes the extracted MetricRef
type MetricRole int

const (
	// MetricSelector binds the metric name as the PromQL metric selector
	MetricSelector MetricRole = iota
	// MetricServiceLabel binds the metric name as a service label filter on a
	// catalog metric (the histogram/counter the cluster actually exposes)
	MetricServiceLabel
	// MetricUnused ignores any extracted metric name
	MetricUnused
)

// Requires is the required-entity predicate of a rule. It checks presence
// and kind, never values.
type Requires struct {
	Metric  bool     `json:"metric,omitempty"`
	Stat    StatKind `json:"stat,omitempty"` // empty means no stat requirement
	GroupBy bool     `json:"group_by,omitempty"`
}

// SatisfiedBy reports whether the entity set meets the predicate
func (r Requires) SatisfiedBy(es *EntitySet) bool {
	if r.Metric && es.Metric == nil {
		return false
	}
	if r.Stat != "" && !es.HasStat(r.Stat) {
		return false
	}
	if r.GroupBy && len(es.GroupBy) == 0 {
		return false
	}
	return true
}

// specificity counts how many entity kinds the predicate constrains. Used
// only for diagnostics; ranking is (priority, definition order).
func (r Requires) specificity() int {
	n := 0
	if r.Metric {
		n++
	}
	if r.Stat != "" {
		n++
	}
	if r.GroupBy {
		n++
	}
	return n
}

// Rule is one immutable translation rule: a required entity combination
// paired with a PromQL template and a rationale for the explain trace.
// Higher priority wins; definition order breaks ties.
type Rule struct {
	ID        string
	Priority  int
	Requires  Requires
	Role      MetricRole
	Template  string
	Rationale string
}

// Placeholder names allowed in rule and rationale templates. Checked at
// table construction so malformed templates fail at startup, not at
// translation time.
var allowedPlaceholders = map[string]struct{}{
	"metric":          {}, // extracted metric name
	"quantile":        {}, // quantile as a 0..1 PromQL literal
	"percentile":      {}, // quantile as the raw percentile number (rationales)
	"range":           {}, // PromQL duration literal
	"group":           {}, // full " by (a, b)" clause, empty when ungrouped
	"group_more":      {}, // ", a, b" continuation inside an existing by()
	"filters":         {}, // full "{k=\"v\"}" block, empty when unfiltered
	"filters_more":    {}, // ", k=\"v\"" continuation inside an existing block
	"requests_metric": {}, // catalog request-counter metric
	"latency_metric":  {}, // catalog latency histogram bucket metric
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Table is the process-wide, read-only rule table. It is constructed once
// and safe for unsynchronized concurrent reads.
type Table struct {
	rules []Rule
}

// NewTable validates every rule and builds an immutable table. Rules keep
// their definition order; ranking happens at match time.
func NewTable(rules []Rule) (*Table, error) {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, apperrors.NewInvalidRuleError("(unnamed)", "missing id")
		}
		if _, dup := seen[r.ID]; dup {
			return nil, apperrors.NewInvalidRuleError(r.ID, "duplicate id")
		}
		seen[r.ID] = struct{}{}
		if r.Template == "" {
			return nil, apperrors.NewInvalidRuleError(r.ID, "missing template")
		}
		if err := checkPlaceholders(r.ID, r.Template); err != nil {
			return nil, err
		}
		if err := checkPlaceholders(r.ID, r.Rationale); err != nil {
			return nil, err
		}
		if usesPlaceholder(r.Template, "metric") && !r.Requires.Metric {
			return nil, apperrors.NewInvalidRuleError(r.ID, "template binds {metric} but the rule does not require one")
		}
		if usesPlaceholder(r.Template, "quantile") && r.Requires.Stat != StatQuantile {
			return nil, apperrors.NewInvalidRuleError(r.ID, "template binds {quantile} but the rule does not require a quantile operator")
		}
	}
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Table{rules: copied}, nil
}

func checkPlaceholders(ruleID, template string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if _, ok := allowedPlaceholders[m[1]]; !ok {
			return apperrors.NewInvalidRuleError(ruleID, fmt.Sprintf("unknown placeholder {%s}", m[1]))
		}
	}
	return nil
}

func usesPlaceholder(template, name string) bool {
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// MatchResult pairs a matched rule with its definition index. The composer
// uses only the top-ranked result; the full list is kept for diagnostics.
type MatchResult struct {
	Rule  Rule
	Index int
}

// Match returns every rule whose predicate the entity set satisfies, sorted
// by descending priority with definition order as the stable tie-break. An
// empty result means no rule applies, which is a translation failure for the
// caller, not an engine fault.
func (t *Table) Match(es *EntitySet) []MatchResult {
	var out []MatchResult
	for i, r := range t.rules {
		if r.Requires.SatisfiedBy(es) {
			out = append(out, MatchResult{Rule: r, Index: i})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Rule.Priority != out[b].Rule.Priority {
			return out[a].Rule.Priority > out[b].Rule.Priority
		}
		return out[a].Index < out[b].Index
	})
	return out
}

// Rules returns a copy of the table's rules in definition order
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// DefaultRules is the builtin rule table. Latency quantile rules treat the
// extracted name as a service label on the catalog's histogram metric, the
// way clusters actually expose request duration; generic stat rules treat it
// as the metric selector itself. Error-rate and throughput rules do not
// require a metric: when none is extracted they fall back to the catalog's
// request-counter metric.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "latency_quantile_by",
			Priority: 40,
			Requires: Requires{Metric: true, Stat: StatQuantile, GroupBy: true},
			Role:     MetricServiceLabel,
			Template: `histogram_quantile({quantile}, sum(rate({latency_metric}{filters}[{range}])) by (le{group_more}))`,
			Rationale: "p{percentile} latency of {metric} over {range}, grouped{group}, " +
				"computed from the {latency_metric} histogram",
		},
		{
			ID:       "latency_quantile",
			Priority: 30,
			Requires: Requires{Metric: true, Stat: StatQuantile},
			Role:     MetricServiceLabel,
			Template: `histogram_quantile({quantile}, sum(rate({latency_metric}{filters}[{range}])) by (le))`,
			Rationale: "p{percentile} latency of {metric} over {range}, " +
				"computed from the {latency_metric} histogram",
		},
		{
			ID:       "error_rate_by",
			Priority: 28,
			Requires: Requires{Stat: StatErrorRate, GroupBy: true},
			Role:     MetricServiceLabel,
			Template: `sum(rate({requests_metric}{status=~"5.."{filters_more}}[{range}])){group} / ` +
				`sum(rate({requests_metric}{filters}[{range}])){group}`,
			Rationale: "ratio of 5xx to total {requests_metric} over {range}, grouped{group}",
		},
		{
			ID:       "error_rate",
			Priority: 20,
			Requires: Requires{Stat: StatErrorRate},
			Role:     MetricServiceLabel,
			Template: `sum(rate({requests_metric}{status=~"5.."{filters_more}}[{range}])) / ` +
				`sum(rate({requests_metric}{filters}[{range}]))`,
			Rationale: "ratio of 5xx to total {requests_metric} over {range}",
		},
		{
			ID:        "rate_by",
			Priority:  18,
			Requires:  Requires{Metric: true, Stat: StatRate, GroupBy: true},
			Role:      MetricSelector,
			Template:  `sum(rate({metric}{filters}[{range}])){group}`,
			Rationale: "per-second rate of {metric} over {range}, grouped{group}",
		},
		{
			ID:        "rate",
			Priority:  15,
			Requires:  Requires{Metric: true, Stat: StatRate},
			Role:      MetricSelector,
			Template:  `rate({metric}{filters}[{range}])`,
			Rationale: "per-second rate of {metric} over {range}",
		},
		{
			ID:        "average_by",
			Priority:  18,
			Requires:  Requires{Metric: true, Stat: StatAverage, GroupBy: true},
			Role:      MetricSelector,
			Template:  `avg(avg_over_time({metric}{filters}[{range}])){group}`,
			Rationale: "average of {metric} over {range}, grouped{group}",
		},
		{
			ID:        "average",
			Priority:  15,
			Requires:  Requires{Metric: true, Stat: StatAverage},
			Role:      MetricSelector,
			Template:  `avg_over_time({metric}{filters}[{range}])`,
			Rationale: "average of {metric} over {range}",
		},
		{
			ID:        "count_by",
			Priority:  18,
			Requires:  Requires{Metric: true, Stat: StatCount, GroupBy: true},
			Role:      MetricSelector,
			Template:  `sum(count_over_time({metric}{filters}[{range}])){group}`,
			Rationale: "sample count of {metric} over {range}, grouped{group}",
		},
		{
			ID:        "count",
			Priority:  15,
			Requires:  Requires{Metric: true, Stat: StatCount},
			Role:      MetricSelector,
			Template:  `count_over_time({metric}{filters}[{range}])`,
			Rationale: "sample count of {metric} over {range}",
		},
		{
			ID:        "sum_by",
			Priority:  18,
			Requires:  Requires{Metric: true, Stat: StatSum, GroupBy: true},
			Role:      MetricSelector,
			Template:  `sum(sum_over_time({metric}{filters}[{range}])){group}`,
			Rationale: "sum of {metric} over {range}, grouped{group}",
		},
		{
			ID:        "sum",
			Priority:  15,
			Requires:  Requires{Metric: true, Stat: StatSum},
			Role:      MetricSelector,
			Template:  `sum(sum_over_time({metric}{filters}[{range}]))`,
			Rationale: "sum of {metric} over {range}",
		},
		{
			ID:        "throughput_by",
			Priority:  10,
			Requires:  Requires{Stat: StatRate, GroupBy: true},
			Role:      MetricServiceLabel,
			Template:  `sum(rate({requests_metric}{filters}[{range}])){group}`,
			Rationale: "request throughput from {requests_metric} over {range}, grouped{group}",
		},
		{
			ID:        "throughput",
			Priority:  8,
			Requires:  Requires{Stat: StatRate},
			Role:      MetricServiceLabel,
			Template:  `sum(rate({requests_metric}{filters}[{range}]))`,
			Rationale: "request throughput from {requests_metric} over {range}",
		},
		{
			ID:        "metric_rate",
			Priority:  5,
			Requires:  Requires{Metric: true},
			Role:      MetricSelector,
			Template:  `rate({metric}{filters}[{range}])`,
			Rationale: "no statistic recognized; defaulting to the per-second rate of {metric} over {range}",
		},
	}
}
