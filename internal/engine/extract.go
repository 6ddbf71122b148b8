package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Extractor scans a phrase for recognizable fragments and produces an
// EntitySet. Extraction never fails: an empty or unintelligible phrase
// yields an empty or partial set and the decision is deferred to rule
// matching.
type Extractor struct {
	patterns  map[string]*regexp.Regexp
	stopwords map[string]struct{}
}

var unitSeconds = map[string]int{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
}

// Words that never form part of a metric name. The other passes' trigger
// words are listed too: they are normally consumed before the metric pass
// runs, but a pass that has to discard a partial match must still keep its
// trigger word out of metric runs.
var metricStopwords = []string{
	"a", "an", "and", "are", "at", "by", "duration", "for", "from", "give",
	"how", "in", "is", "it", "last", "latency", "me", "my", "now", "of",
	"on", "over", "past", "per", "please", "request", "requests",
	"response", "show", "that", "the", "this", "time", "to", "traffic",
	"usage", "what", "where", "with",
}

// NewExtractor creates an extractor with the compiled pass patterns
func NewExtractor() *Extractor {
	patterns := map[string]*regexp.Regexp{
		"range":       regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s*([smhdw])\b`),
		"range_raw":   regexp.MustCompile(`\[(\d+)\s*([smhdw])\]`),
		"quantile_p":  regexp.MustCompile(`\bp(50|90|95|99)\b`),
		"quantile_th": regexp.MustCompile(`\b(\d{1,2})th percentile\b`),
		"error_rate":  regexp.MustCompile(`\berror\s+rate\b|\b5xx\b`),
		"rate":        regexp.MustCompile(`\brate\b`),
		"average":     regexp.MustCompile(`\baverage\b|\bavg\b`),
		"count":       regexp.MustCompile(`\bcount\b`),
		"sum":         regexp.MustCompile(`\bsum\b`),
		"group_by":    regexp.MustCompile(`\bby\s+([a-z_][a-z0-9_]*(?:\s*,\s*[a-z_][a-z0-9_]*)*)`),
		"group_per":   regexp.MustCompile(`\bper\s+([a-z_][a-z0-9_]*)\b`),
		"filter_kv":   regexp.MustCompile(`\bwhere\s+([a-z_][a-z0-9_]*)\s*=\s*"?([a-z0-9_.-]+)"?`),
		"filter_col":  regexp.MustCompile(`\b([a-z_][a-z0-9_]*):([a-z0-9_.-]+)\b`),
		"identifier":  regexp.MustCompile(`[a-z_][a-z0-9_]*`),
	}

	stopwords := make(map[string]struct{}, len(metricStopwords))
	for _, w := range metricStopwords {
		stopwords[w] = struct{}{}
	}

	return &Extractor{patterns: patterns, stopwords: stopwords}
}

// normalize case-folds and collapses whitespace so that translation is
// insensitive to casing and spacing differences.
func normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// span marks a half-open byte range of the normalized phrase as claimed by a pass
type span struct{ start, end int }

type spanSet struct {
	spans []span
}

func (s *spanSet) consume(start, end int) {
	s.spans = append(s.spans, span{start, end})
}

func (s *spanSet) overlaps(start, end int) bool {
	for _, sp := range s.spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}

// overlapStart returns the earliest start of a consumed span that intersects
// [start, end), or -1 when the range is free.
func (s *spanSet) overlapStart(start, end int) int {
	cut := -1
	for _, sp := range s.spans {
		if start < sp.end && end > sp.start {
			if cut == -1 || sp.start < cut {
				cut = sp.start
			}
		}
	}
	return cut
}

// Extract runs the ordered extraction passes over phrase. Passes write only
// their own entity kind; the metric pass runs last so that trigger words of
// the other passes are already consumed. The second return value carries
// warnings (ambiguous operator words) that belong in Translation.Warnings.
func (x *Extractor) Extract(phrase string) (*EntitySet, []string) {
	text := normalize(phrase)
	es := &EntitySet{}
	consumed := &spanSet{}
	var warnings []string

	x.extractRange(text, es, consumed)
	warnings = append(warnings, x.extractStat(text, es, consumed)...)
	x.extractGroupBy(text, es, consumed)
	x.extractFilters(text, es, consumed)
	x.extractMetric(text, es, consumed)

	return es, warnings
}

// extractRange recognizes "last <n><unit>" / "past <n><unit>" and the raw
// "[5m]" form. The first occurrence wins; every occurrence is consumed so the
// metric pass never sees range trigger words.
func (x *Extractor) extractRange(text string, es *EntitySet, consumed *spanSet) {
	for _, key := range []string{"range", "range_raw"} {
		for _, m := range x.patterns[key].FindAllStringSubmatchIndex(text, -1) {
			if consumed.overlaps(m[0], m[1]) {
				continue
			}
			consumed.consume(m[0], m[1])
			if es.Range != nil {
				continue
			}
			n, err := strconv.Atoi(text[m[2]:m[3]])
			if err != nil {
				continue
			}
			es.Range = &TimeRange{Seconds: n * unitSeconds[text[m[4]:m[5]]]}
		}
	}
}

// statMatch is a candidate stat operator found in the phrase
type statMatch struct {
	start, end int
	op         StatOp
	word       string
}

// extractStat recognizes the stat-operator vocabulary. When several distinct
// operator words appear the leftmost wins and a warning is recorded; the
// translation still proceeds.
func (x *Extractor) extractStat(text string, es *EntitySet, consumed *spanSet) []string {
	var found []statMatch

	collect := func(key string, build func(sub []string) StatOp) {
		for _, m := range x.patterns[key].FindAllStringSubmatchIndex(text, -1) {
			if consumed.overlaps(m[0], m[1]) {
				continue
			}
			overlapsFound := false
			for _, f := range found {
				if m[0] < f.end && m[1] > f.start {
					overlapsFound = true
					break
				}
			}
			if overlapsFound {
				continue
			}
			var sub []string
			for i := 2; i+1 < len(m); i += 2 {
				if m[i] >= 0 {
					sub = append(sub, text[m[i]:m[i+1]])
				}
			}
			found = append(found, statMatch{
				start: m[0],
				end:   m[1],
				op:    build(sub),
				word:  text[m[0]:m[1]],
			})
		}
	}

	// Kind order matters only for overlap resolution: "error rate" must claim
	// its span before the bare "rate" pattern sees it.
	collect("quantile_p", func(sub []string) StatOp {
		p, _ := strconv.Atoi(sub[0])
		return StatOp{Kind: StatQuantile, Percentile: p}
	})
	collect("quantile_th", func(sub []string) StatOp {
		p, _ := strconv.Atoi(sub[0])
		return StatOp{Kind: StatQuantile, Percentile: p}
	})
	collect("error_rate", func([]string) StatOp { return StatOp{Kind: StatErrorRate} })
	collect("rate", func([]string) StatOp { return StatOp{Kind: StatRate} })
	collect("average", func([]string) StatOp { return StatOp{Kind: StatAverage} })
	collect("count", func([]string) StatOp { return StatOp{Kind: StatCount} })
	collect("sum", func([]string) StatOp { return StatOp{Kind: StatSum} })

	if len(found) == 0 {
		return nil
	}

	leftmost := found[0]
	for _, f := range found[1:] {
		if f.start < leftmost.start {
			leftmost = f
		}
	}

	var warnings []string
	for _, f := range found {
		consumed.consume(f.start, f.end)
		if f.start != leftmost.start && f.op.Kind != leftmost.op.Kind {
			warnings = append(warnings, fmt.Sprintf(
				"ambiguous operator: found %q after %q; using leftmost", f.word, leftmost.word))
		}
	}

	op := leftmost.op
	es.Stat = &op
	return warnings
}

// extractGroupBy recognizes "by <dim>[, <dim>]*" and "per <dim>", producing
// one ordered dimension set across all occurrences. A greedy comma list can
// run into a span an earlier pass already claimed ("by namespace, last 30m");
// the match is trimmed at that span instead of discarded so that the trigger
// word and the leading dimensions still get consumed here.
func (x *Extractor) extractGroupBy(text string, es *EntitySet, consumed *spanSet) {
	for _, key := range []string{"group_by", "group_per"} {
		for _, m := range x.patterns[key].FindAllStringSubmatchIndex(text, -1) {
			start, end, listEnd := m[0], m[1], m[3]
			if cut := consumed.overlapStart(start, end); cut >= 0 {
				if cut <= m[2] {
					// Only the trigger word precedes the claimed span.
					if cut > start {
						consumed.consume(start, cut)
					}
					continue
				}
				end = cut
				if listEnd > cut {
					listEnd = cut
				}
			}
			consumed.consume(start, end)
			list := strings.Trim(text[m[2]:listEnd], " ,")
			for _, dim := range strings.Split(list, ",") {
				dim = strings.TrimSpace(dim)
				if dim != "" {
					es.addGroupDim(dim)
				}
			}
		}
	}
}

// extractFilters recognizes "where <key>=<value>" and "<key>:<value>" tokens.
// A match whose value was claimed by an earlier pass is dropped, but its free
// prefix is still consumed so the trigger word cannot leak into the metric pass.
func (x *Extractor) extractFilters(text string, es *EntitySet, consumed *spanSet) {
	for _, key := range []string{"filter_kv", "filter_col"} {
		for _, m := range x.patterns[key].FindAllStringSubmatchIndex(text, -1) {
			if cut := consumed.overlapStart(m[0], m[1]); cut >= 0 {
				if cut > m[0] {
					consumed.consume(m[0], cut)
				}
				continue
			}
			consumed.consume(m[0], m[1])
			es.addFilter(text[m[2]:m[3]], text[m[4]:m[5]])
		}
	}
}

// identToken is one identifier-looking token of the normalized phrase
type identToken struct {
	text       string
	start, end int
	eligible   bool
}

// extractMetric takes the best remaining contiguous token run after every
// other pass has claimed its spans. A run is only accepted as a metric name
// when there is corroborating evidence of monitoring intent: either another
// entity was extracted from the phrase, or the run has identifier shape (an
// underscore or a digit). A bare unrecognized word therefore produces no
// MetricRef and the phrase falls through to rule matching as a no-match.
func (x *Extractor) extractMetric(text string, es *EntitySet, consumed *spanSet) {
	var tokens []identToken
	for _, m := range x.patterns["identifier"].FindAllStringIndex(text, -1) {
		tok := identToken{text: text[m[0]:m[1]], start: m[0], end: m[1]}
		_, stop := x.stopwords[tok.text]
		tok.eligible = !stop && !consumed.overlaps(tok.start, tok.end)
		tokens = append(tokens, tok)
	}

	// Build maximal runs of adjacent eligible tokens. Adjacency requires the
	// separating text to be a single space, so punctuation breaks a run.
	var runs [][]identToken
	var current []identToken
	flush := func() {
		if len(current) > 0 {
			runs = append(runs, current)
			current = nil
		}
	}
	for _, tok := range tokens {
		if !tok.eligible {
			flush()
			continue
		}
		if len(current) > 0 {
			prev := current[len(current)-1]
			if text[prev.end:tok.start] != " " {
				flush()
			}
		}
		current = append(current, tok)
	}
	flush()

	if len(runs) == 0 {
		return
	}

	best := pickMetricRun(runs)
	hasOtherEntity := es.Stat != nil || es.Range != nil || len(es.GroupBy) > 0 || len(es.Filters) > 0
	if !hasOtherEntity && !runLooksLikeIdentifier(best) {
		return
	}

	parts := make([]string, len(best))
	for i, tok := range best {
		parts[i] = tok.text
	}
	es.Metric = &MetricRef{Name: strings.Join(parts, "_")}
}

// pickMetricRun prefers runs with identifier shape, then longer runs, then
// the leftmost. The ordering is total, so extraction stays deterministic.
func pickMetricRun(runs [][]identToken) []identToken {
	best := runs[0]
	for _, run := range runs[1:] {
		bestStrong := runLooksLikeIdentifier(best)
		runStrong := runLooksLikeIdentifier(run)
		switch {
		case runStrong && !bestStrong:
			best = run
		case runStrong == bestStrong && runLength(run) > runLength(best):
			best = run
		}
	}
	return best
}

func runLooksLikeIdentifier(run []identToken) bool {
	for _, tok := range run {
		if strings.ContainsAny(tok.text, "_0123456789") {
			return true
		}
	}
	return false
}

func runLength(run []identToken) int {
	n := 0
	for _, tok := range run {
		n += len(tok.text)
	}
	return n
}
