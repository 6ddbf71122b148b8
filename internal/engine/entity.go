// Package engine implements the rule-based natural-language to PromQL
// translation core: entity extraction, rule matching, query composition
// and explain-trace generation.
package engine

import "fmt"

// StatKind identifies a statistical operator recognized in a phrase
type StatKind string

const (
	StatQuantile  StatKind = "quantile"
	StatRate      StatKind = "rate"
	StatErrorRate StatKind = "error_rate"
	StatAverage   StatKind = "average"
	StatCount     StatKind = "count"
	StatSum       StatKind = "sum"
)

// MetricRef is the subject metric or service name extracted from a phrase
type MetricRef struct {
	Name string `json:"name"`
}

// StatOp is the statistical operator extracted from a phrase. Percentile is
// only meaningful when Kind is StatQuantile.
type StatOp struct {
	Kind       StatKind `json:"kind"`
	Percentile int      `json:"percentile,omitempty"`
}

// LabelFilter is an equality constraint on a label
type LabelFilter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TimeRange is a duration extracted from a phrase, seconds granularity
type TimeRange struct {
	Seconds int `json:"seconds"`
}

// PromDuration renders the range as a compact PromQL duration literal
// (300 -> "5m", 3600 -> "1h").
func (t TimeRange) PromDuration() string {
	s := t.Seconds
	switch {
	case s > 0 && s%604800 == 0:
		return fmt.Sprintf("%dw", s/604800)
	case s > 0 && s%86400 == 0:
		return fmt.Sprintf("%dd", s/86400)
	case s > 0 && s%3600 == 0:
		return fmt.Sprintf("%dh", s/3600)
	case s > 0 && s%60 == 0:
		return fmt.Sprintf("%dm", s/60)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// EntitySet holds the typed facts extracted from one phrase. The at-most-one
// invariants for metric, stat operator and time range are structural: each is
// a single optional field. GroupBy and Filters keep first-appearance order
// with set semantics (no duplicate dimension or key).
type EntitySet struct {
	Metric  *MetricRef    `json:"metric,omitempty"`
	Stat    *StatOp       `json:"stat,omitempty"`
	GroupBy []string      `json:"group_by,omitempty"`
	Filters []LabelFilter `json:"filters,omitempty"`
	Range   *TimeRange    `json:"range,omitempty"`
}

// Empty reports whether nothing at all was extracted
func (es *EntitySet) Empty() bool {
	return es.Metric == nil && es.Stat == nil && es.Range == nil &&
		len(es.GroupBy) == 0 && len(es.Filters) == 0
}

// HasStat reports whether the set carries a stat operator of the given kind
func (es *EntitySet) HasStat(kind StatKind) bool {
	return es.Stat != nil && es.Stat.Kind == kind
}

// addGroupDim appends a grouping dimension unless it is already present
func (es *EntitySet) addGroupDim(dim string) {
	for _, d := range es.GroupBy {
		if d == dim {
			return
		}
	}
	es.GroupBy = append(es.GroupBy, dim)
}

// addFilter appends a label filter unless the key is already constrained.
// First occurrence wins.
func (es *EntitySet) addFilter(key, value string) {
	for _, f := range es.Filters {
		if f.Key == key {
			return
		}
	}
	es.Filters = append(es.Filters, LabelFilter{Key: key, Value: value})
}
