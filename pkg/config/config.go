// Package config loads the YAML configuration of an analysis run and builds
// the registry, phase plan, correlation and scoring settings from it.
//
// Example:
//
//	log_level: info
//	agents:
//	  - id: slither
//	    preset: slither
//	    timeout: 3m
//	  - id: mythril
//	    preset: mythril
//	    enabled: ${SOLAUDIT_SYMBOLIC}
//	plan:
//	  budget: 45m
//	  phases:
//	    - name: static
//	      agents: [slither]
//	    - name: symbolic
//	      category: reentrancy
//	      concurrency: 2
//	scoring:
//	  model: weighted-sum
//	  threshold: 0.55
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exploopio/solaudit/pkg/adapters"
	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/correlation"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/scoring"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// Config is the root configuration document.
type Config struct {
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	Taxonomy    TaxonomyConfig     `yaml:"taxonomy"`
	Agents      []AgentConfig      `yaml:"agents"`
	Plan        PlanConfig         `yaml:"plan"`
	Correlation correlation.Config `yaml:"correlation"`
	Scoring     ScoringConfig      `yaml:"scoring"`
	Output      OutputConfig       `yaml:"output"`
}

// TaxonomyConfig extends the built-in SWC taxonomy.
type TaxonomyConfig struct {
	Files      []string         `yaml:"files"`
	Categories []taxonomy.Entry `yaml:"categories"`
}

// AgentConfig declares one agent. With a preset the inline tool fields
// override the preset's; without one they describe a custom tool.
type AgentConfig struct {
	ID       string        `yaml:"id"`
	Preset   string        `yaml:"preset"`
	Enabled  *bool         `yaml:"enabled"`
	Speed    string        `yaml:"speed"`
	Priority *int          `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`

	Tool adapters.Config `yaml:",inline"`
}

// IsEnabled reports whether the agent is registered. Default true.
func (a *AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// PlanConfig describes the phase plan.
type PlanConfig struct {
	Budget       time.Duration `yaml:"budget"`
	DispatchRate float64       `yaml:"dispatch_rate"`
	Phases       []PhaseConfig `yaml:"phases"`
}

// PhaseConfig is one phase. A phase with a category and no agents runs
// every registered agent covering that category.
type PhaseConfig struct {
	Name        string           `yaml:"name"`
	Category    string           `yaml:"category"`
	Concurrency int              `yaml:"concurrency"`
	Agents      []AgentRefConfig `yaml:"agents"`
}

// AgentRefConfig schedules one agent in a phase. It may be written as a
// bare agent ID.
type AgentRefConfig struct {
	ID        string            `yaml:"id"`
	Timeout   time.Duration     `yaml:"timeout"`
	ExtraArgs []string          `yaml:"extra_args"`
	Env       map[string]string `yaml:"env"`
	WorkDir   string            `yaml:"work_dir"`
}

// UnmarshalYAML accepts either a mapping or a scalar ID.
func (r *AgentRefConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.ID = node.Value
		return nil
	}
	type plain AgentRefConfig
	return node.Decode((*plain)(r))
}

// ScoringConfig holds the scoring thresholds and the model selection.
type ScoringConfig struct {
	scoring.Config `yaml:",inline"`

	// Model is "weighted-sum" (default) or "logistic".
	Model    string                    `yaml:"model"`
	Weights  *scoring.WeightedSumModel `yaml:"weights"`
	Logistic *scoring.LogisticModel    `yaml:"logistic"`
}

// OutputConfig controls raw output retention.
type OutputConfig struct {
	RetainRawOutput bool   `yaml:"retain_raw_output"`
	Compression     string `yaml:"compression"`
}

// Default returns the configuration used when a file leaves a field out.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		Correlation: correlation.DefaultConfig(),
		Scoring:     ScoringConfig{Config: scoring.DefaultConfig()},
		Output:      OutputConfig{Compression: "zstd"},
	}
}

// Load reads, expands and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(errors.KindConfig, "config.Load", "read config", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes data over the defaults and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.E(errors.KindConfig, "config.Parse", "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the document without touching the filesystem or PATH.
func (c *Config) Validate() error {
	const op = "config.Validate"
	invalid := func(format string, args ...any) error {
		return errors.E(errors.KindConfig, op, fmt.Sprintf(format, args...), errors.ErrInvalidConfig)
	}

	ids := make(map[string]bool)
	for i, a := range c.Agents {
		id := a.agentID()
		if id == "" {
			return invalid("agents[%d]: id, preset or name is required", i)
		}
		if ids[id] {
			return invalid("agents[%d]: duplicate id %q", i, id)
		}
		ids[id] = true

		if a.Preset != "" {
			if _, ok := adapters.Presets[a.Preset]; !ok {
				return invalid("agent %s: unknown preset %q", id, a.Preset)
			}
		} else {
			if a.Tool.Binary == "" && a.Tool.Name == "" {
				return invalid("agent %s: custom agents need a binary", id)
			}
			if _, ok := adapters.Parsers[a.Tool.Format]; !ok {
				return invalid("agent %s: unknown output format %q", id, a.Tool.Format)
			}
		}
		switch registry.SpeedClass(strings.ToLower(a.Speed)) {
		case "", registry.SpeedFast, registry.SpeedMedium, registry.SpeedSlow:
		default:
			return invalid("agent %s: unknown speed %q", id, a.Speed)
		}
		if a.Timeout < 0 {
			return invalid("agent %s: negative timeout", id)
		}
		if a.Tool.DefaultConfidence < 0 || a.Tool.DefaultConfidence > 1 {
			return invalid("agent %s: default_confidence must be in [0,1]", id)
		}
	}

	if c.Plan.Budget < 0 || c.Plan.DispatchRate < 0 {
		return invalid("plan: budget and dispatch_rate must be >= 0")
	}
	for i, ph := range c.Plan.Phases {
		if ph.Concurrency < 0 {
			return invalid("phase %d (%s): concurrency must be >= 0", i, ph.Name)
		}
		if len(ph.Agents) == 0 && ph.Category == "" {
			return invalid("phase %d (%s): needs agents or a category", i, ph.Name)
		}
		for _, ref := range ph.Agents {
			if len(c.Agents) > 0 && !ids[ref.ID] {
				return invalid("phase %d (%s): agent %q is not configured", i, ph.Name, ref.ID)
			}
			if ref.Timeout < 0 {
				return invalid("phase %d (%s): agent %s has a negative timeout", i, ph.Name, ref.ID)
			}
		}
	}

	if _, err := compress.ParseAlgorithm(c.Output.Compression); err != nil {
		return invalid("output: %v", err)
	}
	if err := c.Correlation.Validate(); err != nil {
		return err
	}
	sc, err := c.ScoringParams()
	if err != nil {
		return err
	}
	return sc.Validate()
}

// agentID returns the explicit ID, the preset name or the tool name.
func (a *AgentConfig) agentID() string {
	switch {
	case a.ID != "":
		return a.ID
	case a.Preset != "":
		return a.Preset
	default:
		return a.Tool.Name
	}
}
