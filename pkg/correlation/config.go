package correlation

import (
	"fmt"
	"sort"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// Defaults.
const (
	DefaultToleranceLines     = 5
	DefaultReliability        = 0.5
	defaultUseFunctionBorders = true
)

// ToolProfile declares which categories a tool looks for. Tools eligible
// for a category form the denominator of its agreement score.
type ToolProfile struct {
	Name         string   `yaml:"name" json:"name"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// Config holds the merge tolerance and reliability priors.
type Config struct {
	// ToleranceLines is the largest line gap at which two findings in the
	// same category and file still merge.
	ToleranceLines int `yaml:"tolerance_lines" json:"tolerance_lines"`

	// UseFunctionBoundaries makes findings that both name a contract and
	// function merge iff they name the same one or their spans overlap.
	UseFunctionBoundaries bool `yaml:"use_function_boundaries" json:"use_function_boundaries"`

	// Reliability is the prior per tool name, in [0,1].
	Reliability map[string]float64 `yaml:"reliability" json:"reliability,omitempty"`

	// DefaultReliability applies to tools missing from Reliability.
	DefaultReliability float64 `yaml:"default_reliability" json:"default_reliability"`

	Tools []ToolProfile `yaml:"tools" json:"tools,omitempty"`

	Taxonomy *taxonomy.Taxonomy `yaml:"-" json:"-"`
	Logger   core.Logger        `yaml:"-" json:"-"`
	Metrics  metrics.Collector  `yaml:"-" json:"-"`
}

// DefaultConfig returns a configuration with default tolerance and priors.
func DefaultConfig() Config {
	return Config{
		ToleranceLines:        DefaultToleranceLines,
		UseFunctionBoundaries: defaultUseFunctionBorders,
		DefaultReliability:    DefaultReliability,
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	const op = "correlation.Config"
	if c.ToleranceLines < 0 {
		return errors.E(errors.KindConfig, op, "tolerance_lines must be >= 0", errors.ErrInvalidConfig)
	}
	if c.DefaultReliability < 0 || c.DefaultReliability > 1 {
		return errors.E(errors.KindConfig, op, "default_reliability must be in [0,1]", errors.ErrInvalidConfig)
	}
	names := make([]string, 0, len(c.Reliability))
	for name := range c.Reliability {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r := c.Reliability[name]; r < 0 || r > 1 {
			return errors.E(errors.KindConfig, op,
				fmt.Sprintf("reliability of %q must be in [0,1], got %v", name, r), errors.ErrInvalidConfig)
		}
	}
	return nil
}

// ProfilesFromRegistry derives tool profiles from registered agents.
// Agents sharing a tool contribute the union of their capabilities.
func ProfilesFromRegistry(reg *registry.Registry) []ToolProfile {
	byTool := make(map[string][]string)
	var order []string
	for _, a := range reg.List() {
		tool := a.ToolName()
		if _, ok := byTool[tool]; !ok {
			order = append(order, tool)
		}
		byTool[tool] = append(byTool[tool], a.EffectiveCapabilities()...)
	}
	sort.Strings(order)

	out := make([]ToolProfile, 0, len(order))
	for _, tool := range order {
		out = append(out, ToolProfile{Name: tool, Capabilities: byTool[tool]})
	}
	return out
}

// ProfilesForRun keeps the profiles of tools that completed in report.
// Tools that were never dispatched, were skipped or failed did not look
// for anything and are not eligible.
func ProfilesForRun(profiles []ToolProfile, report *core.RunReport) []ToolProfile {
	if report == nil {
		return nil
	}
	ran := make(map[string]bool)
	for _, tool := range report.Tools() {
		ran[tool] = true
	}
	out := make([]ToolProfile, 0, len(ran))
	for _, p := range profiles {
		if ran[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
