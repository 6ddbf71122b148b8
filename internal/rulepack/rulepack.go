// Package rulepack loads user-authored translation rules from YAML files.
// Pack rules join the built-in table and can outrank built-in rules through
// their priority, so operators can teach the assistant site-specific
// vocabulary without rebuilding the binary.
package rulepack

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// RuleDef is one rule entry in a pack file.
type RuleDef struct {
	ID        string `yaml:"id"`
	Priority  int    `yaml:"priority"`
	Template  string `yaml:"template"`
	Rationale string `yaml:"rationale"`
	Role      string `yaml:"role"`
	Requires  struct {
		Metric  bool   `yaml:"metric"`
		Stat    string `yaml:"stat"`
		GroupBy bool   `yaml:"group_by"`
	} `yaml:"requires"`
}

// File is the YAML root structure of a rule pack.
type File struct {
	Rules []RuleDef `yaml:"rules"`
}

var statKinds = map[string]engine.StatKind{
	"":           "",
	"quantile":   engine.StatQuantile,
	"rate":       engine.StatRate,
	"error_rate": engine.StatErrorRate,
	"average":    engine.StatAverage,
	"count":      engine.StatCount,
	"sum":        engine.StatSum,
}

var roles = map[string]engine.MetricRole{
	"":              engine.MetricSelector,
	"selector":      engine.MetricSelector,
	"service_label": engine.MetricServiceLabel,
	"unused":        engine.MetricUnused,
}

// Load reads a rule pack from path. An empty path or a missing file returns
// no rules, so an unconfigured pack is not an error. Structural validation of
// the resulting rules happens later, at table construction.
func Load(path string) ([]engine.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.NewRulePackError(err, path)
	}
	return Parse(path, data)
}

// Parse decodes rule pack YAML into engine rules. The path is used only for
// error reporting.
func Parse(path string, data []byte) ([]engine.Rule, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewRulePackError(err, path)
	}

	rules := make([]engine.Rule, 0, len(file.Rules))
	for i, def := range file.Rules {
		stat, ok := statKinds[def.Requires.Stat]
		if !ok {
			return nil, apperrors.NewRulePackError(
				fmt.Errorf("rule %d (%s): unknown stat %q", i, def.ID, def.Requires.Stat), path)
		}
		role, ok := roles[def.Role]
		if !ok {
			return nil, apperrors.NewRulePackError(
				fmt.Errorf("rule %d (%s): unknown role %q", i, def.ID, def.Role), path)
		}
		rules = append(rules, engine.Rule{
			ID:        def.ID,
			Priority:  def.Priority,
			Template:  def.Template,
			Rationale: def.Rationale,
			Role:      role,
			Requires: engine.Requires{
				Metric:  def.Requires.Metric,
				Stat:    stat,
				GroupBy: def.Requires.GroupBy,
			},
		})
	}
	return rules, nil
}
