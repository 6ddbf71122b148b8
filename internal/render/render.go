// Package render formats translations and query results for the terminal.
// Output formats are plain PromQL (pipe-friendly), JSON and aligned tables.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	"github.com/daeun-ops/promql-assistant-cli/internal/promapi"
)

// Format names accepted by --format
const (
	FormatTable  = "table"
	FormatJSON   = "json"
	FormatPromQL = "promql"
)

// ValidFormat reports whether s names a known output format
func ValidFormat(s string) bool {
	switch s {
	case FormatTable, FormatJSON, FormatPromQL:
		return true
	}
	return false
}

// PromQL writes just the query string
func PromQL(w io.Writer, tr *engine.Translation) {
	fmt.Fprintln(w, tr.Query)
}

// JSON writes any value as indented JSON
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Translation writes the query, any warnings and the explain trace
func Translation(w io.Writer, tr *engine.Translation) {
	for _, warning := range tr.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintln(w, tr.Query)
}

// Explain writes the trace that led to the query
func Explain(w io.Writer, tr *engine.Translation) {
	Translation(w, tr)
	fmt.Fprintln(w, "\nexplain")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, entry := range tr.Trace {
		fmt.Fprintf(tw, "%d.\t%s\t%s\t%s\n", i+1, entry.RuleID, entry.Rationale, formatBindings(entry.Bindings))
	}
	tw.Flush()
}

func formatBindings(bindings map[string]string) string {
	if len(bindings) == 0 {
		return ""
	}
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, bindings[k])
	}
	return strings.Join(parts, " ")
}

// InstantResult writes an instant query result as a labels/value table
func InstantResult(w io.Writer, result *promapi.Result) {
	if len(result.Series) == 0 {
		fmt.Fprintln(w, "no data")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABELS\tVALUE")
	for _, s := range result.Series {
		var value string
		if len(s.Points) > 0 {
			value = formatValue(s.Points[len(s.Points)-1].Value)
		}
		fmt.Fprintf(tw, "%s\t%s\n", formatLabels(s.Metric), value)
	}
	tw.Flush()
}

// RangeResult writes a range query result as one sparkline row per series,
// capped at limit rows
func RangeResult(w io.Writer, result *promapi.Result, limit int) {
	if len(result.Series) == 0 {
		fmt.Fprintln(w, "no data")
		return
	}
	if limit <= 0 {
		limit = 10
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABELS\tSPARK\tMIN\tMAX\tLAST")
	for i, s := range result.Series {
		if i >= limit {
			fmt.Fprintf(tw, "... %d more series\t\t\t\t\n", len(result.Series)-limit)
			break
		}
		values := make([]float64, len(s.Points))
		for j, p := range s.Points {
			values[j] = p.Value
		}
		vmin, vmax, vlast := summarize(values)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatLabels(s.Metric), Sparkline(values, 60),
			formatValue(vmin), formatValue(vmax), formatValue(vlast))
	}
	tw.Flush()
}

// formatLabels renders metric labels sorted by name
func formatLabels(metric map[string]string) string {
	if len(metric) == 0 {
		return "(no labels)"
	}
	keys := make([]string, 0, len(metric))
	for k := range metric {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, metric[k])
	}
	return strings.Join(parts, ",")
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func summarize(values []float64) (vmin, vmax, vlast float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	vmin, vmax = values[0], values[0]
	for _, v := range values {
		if v < vmin {
			vmin = v
		}
		if v > vmax {
			vmax = v
		}
	}
	return vmin, vmax, values[len(values)-1]
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a row of block characters, downsampled to at
// most width columns
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if width <= 0 {
		width = 60
	}

	if len(values) > width {
		step := float64(len(values)) / float64(width)
		picked := make([]float64, 0, width)
		for i := 0.0; int(i) < len(values) && len(picked) < width; i += step {
			picked = append(picked, values[int(i)])
		}
		values = picked
	}

	vmin, vmax, _ := summarize(values)
	if vmax == vmin {
		return strings.Repeat(string(sparkBlocks[0]), len(values))
	}

	var sb strings.Builder
	scale := float64(len(sparkBlocks) - 1)
	for _, v := range values {
		idx := int((v - vmin) / (vmax - vmin) * scale)
		if idx < 0 {
			idx = 0
		}
		if idx > len(sparkBlocks)-1 {
			idx = len(sparkBlocks) - 1
		}
		sb.WriteRune(sparkBlocks[idx])
	}
	return sb.String()
}
