package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// DefaultRangeSeconds is the time window applied when the phrase carries no
// explicit range.
const DefaultRangeSeconds = 300

// TraceEntry records one composition step: which rule fired or which default
// was substituted, with the concrete bindings used.
type TraceEntry struct {
	RuleID    string            `json:"rule_id"`
	Rationale string            `json:"rationale"`
	Bindings  map[string]string `json:"bindings"`
}

// Translation is the final output of one translation call. It is constructed
// once and never mutated afterward.
type Translation struct {
	Query    string       `json:"query"`
	RuleID   string       `json:"rule_id"`
	Trace    []TraceEntry `json:"trace"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Catalog maps the engine's abstract metric and label roles onto the names a
// concrete cluster exposes. Overridable through configuration.
type Catalog struct {
	RequestsMetric string `json:"requests_metric"`
	LatencyMetric  string `json:"latency_metric"`
	ServiceLabel   string `json:"service_label"`
}

// DefaultCatalog returns the conventional Prometheus HTTP metric names
func DefaultCatalog() Catalog {
	return Catalog{
		RequestsMetric: "http_requests_total",
		LatencyMetric:  "http_request_duration_seconds_bucket",
		ServiceLabel:   "service",
	}
}

// Composer binds extracted entities into a matched rule's template, fills
// defaults for unspecified fields, and emits the final PromQL string
// together with the explain trace. Composition is deterministic: identical
// entity sets and an unchanged rule table produce byte-identical output.
type Composer struct {
	catalog Catalog
}

// NewComposer creates a composer using the given metric catalog
func NewComposer(catalog Catalog) *Composer {
	return &Composer{catalog: catalog}
}

var durationLiteralRe = regexp.MustCompile(`\[\d+[smhdw]\]`)
var identifierRe = regexp.MustCompile(`\b[a-zA-Z_:][a-zA-Z0-9_:]*`)

// hasSelector reports whether the query names at least one metric. Any
// identifier not immediately invoked as a function counts, so bare selectors
// like sum(up) pass while a pure function chain such as rate(()[5m]) does not.
func hasSelector(query string) bool {
	for _, m := range identifierRe.FindAllStringIndex(query, -1) {
		rest := strings.TrimLeft(query[m[1]:], " ")
		if rest == "" || rest[0] != '(' {
			return true
		}
	}
	return false
}

// Compose takes the top-ranked match and renders it. An empty match list
// fails with a NO_MATCH result; a template that renders syntactically
// invalid PromQL fails with INVALID_OUTPUT naming the offending rule.
func (c *Composer) Compose(phrase string, es *EntitySet, matches []MatchResult, warnings []string) (*Translation, error) {
	if len(matches) == 0 {
		return nil, apperrors.NewNoMatchError(phrase)
	}
	rule := matches[0].Rule

	bindings, defaults := c.bind(rule, es)

	trace := []TraceEntry{{
		RuleID:    rule.ID,
		Rationale: render(rule.Rationale, bindings),
		Bindings:  bindingsUsedBy(rule, bindings),
	}}

	// One entry per applied default, in the order the template demanded them
	for _, name := range placeholderOrder(rule.Template) {
		d, ok := defaults[name]
		if !ok {
			continue
		}
		delete(defaults, name)
		trace = append(trace, TraceEntry{
			RuleID:    rule.ID,
			Rationale: d.rationale,
			Bindings:  map[string]string{name: d.value},
		})
	}

	query := render(rule.Template, bindings)
	if reason := checkSyntax(rule, query); reason != "" {
		return nil, apperrors.NewInvalidOutputError(rule.ID, query, reason)
	}

	out := &Translation{
		Query:  query,
		RuleID: rule.ID,
		Trace:  trace,
	}
	out.Warnings = append(out.Warnings, warnings...)
	return out, nil
}

// appliedDefault is a default substitution pending its trace entry
type appliedDefault struct {
	value     string
	rationale string
}

// bind resolves every placeholder value from the entity set and the catalog.
// Unresolved placeholders fall back to fixed defaults, returned separately
// so composition can append them to the trace.
func (c *Composer) bind(rule Rule, es *EntitySet) (map[string]string, map[string]appliedDefault) {
	bindings := make(map[string]string)
	defaults := make(map[string]appliedDefault)

	if es.Metric != nil {
		bindings["metric"] = es.Metric.Name
	}

	if es.Stat != nil && es.Stat.Kind == StatQuantile {
		bindings["quantile"] = strconv.FormatFloat(float64(es.Stat.Percentile)/100, 'g', -1, 64)
		bindings["percentile"] = strconv.Itoa(es.Stat.Percentile)
	}

	if es.Range != nil {
		bindings["range"] = es.Range.PromDuration()
	} else {
		def := TimeRange{Seconds: DefaultRangeSeconds}.PromDuration()
		bindings["range"] = def
		defaults["range"] = appliedDefault{
			value:     def,
			rationale: fmt.Sprintf("no time range given; defaulted to %s", def),
		}
	}

	if len(es.GroupBy) > 0 {
		dims := strings.Join(es.GroupBy, ", ")
		bindings["group"] = fmt.Sprintf(" by (%s)", dims)
		bindings["group_more"] = ", " + dims
	} else {
		bindings["group"] = ""
		bindings["group_more"] = ""
		if usesPlaceholder(rule.Template, "group") || usesPlaceholder(rule.Template, "group_more") {
			defaults["group"] = appliedDefault{
				value:     "(none)",
				rationale: "no grouping dimensions given; aggregating to a scalar",
			}
		}
	}

	filters := es.Filters
	if rule.Role == MetricServiceLabel && es.Metric != nil {
		filters = append([]LabelFilter{{Key: c.catalog.ServiceLabel, Value: es.Metric.Name}}, filters...)
	}
	bindings["filters"] = renderFilterBlock(filters)
	bindings["filters_more"] = renderFilterMore(filters)

	bindings["requests_metric"] = c.catalog.RequestsMetric
	bindings["latency_metric"] = c.catalog.LatencyMetric
	if usesPlaceholder(rule.Template, "requests_metric") && es.Metric == nil && rule.Role == MetricServiceLabel {
		defaults["requests_metric"] = appliedDefault{
			value:     c.catalog.RequestsMetric,
			rationale: fmt.Sprintf("no metric name extracted; using the catalog request counter %s", c.catalog.RequestsMetric),
		}
	}

	return bindings, defaults
}

// renderFilterBlock renders a full selector block, empty when no filters apply
func renderFilterBlock(filters []LabelFilter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s=%q", f.Key, f.Value)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// renderFilterMore renders a continuation for templates that already opened a
// selector block
func renderFilterMore(filters []LabelFilter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s=%q", f.Key, f.Value)
	}
	return "," + strings.Join(parts, ",")
}

// render substitutes placeholder values into a template
func render(template string, bindings map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := bindings[name]; ok {
			return v
		}
		return m
	})
}

// placeholderOrder lists placeholder names by first appearance in a template
func placeholderOrder(template string) []string {
	var order []string
	seen := make(map[string]struct{})
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		name := m[1]
		// group_more demands the same default as group
		if name == "group_more" {
			name = "group"
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	return order
}

// bindingsUsedBy narrows the binding map to the placeholders the rule's
// template and rationale actually reference, so trace entries stay readable.
func bindingsUsedBy(rule Rule, bindings map[string]string) map[string]string {
	used := make(map[string]string)
	for _, tpl := range []string{rule.Template, rule.Rationale} {
		for _, m := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
			if v, ok := bindings[m[1]]; ok && v != "" {
				used[m[1]] = v
			}
		}
	}
	return used
}

// checkSyntax is the internal consistency check on rendered PromQL. It
// guards against rule-authoring bugs, not against user input: balanced
// delimiters, no leftover placeholders, a non-empty metric selector and a
// valid duration literal.
func checkSyntax(rule Rule, query string) string {
	if strings.TrimSpace(query) == "" {
		return "empty query"
	}
	if m := placeholderRe.FindString(query); m != "" {
		return fmt.Sprintf("unresolved placeholder %s", m)
	}
	if reason := checkBalanced(query); reason != "" {
		return reason
	}
	if !hasSelector(query) {
		return "no metric selector"
	}
	if usesPlaceholder(rule.Template, "range") && !durationLiteralRe.MatchString(query) {
		return "missing or invalid duration literal"
	}
	return ""
}

func checkBalanced(query string) string {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	inString := false
	for _, r := range query {
		if r == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Sprintf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Sprintf("unclosed %q", stack[len(stack)-1])
	}
	return ""
}
