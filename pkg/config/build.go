package config

import (
	"github.com/exploopio/solaudit/pkg/adapters"
	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/orchestrator"
	"github.com/exploopio/solaudit/pkg/pipeline"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/scoring"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// Logger returns a stderr logger at the configured level.
func (c *Config) Logger() core.Logger {
	return core.NewDefaultLogger("solaudit", core.ParseLogLevel(c.LogLevel))
}

// BuildTaxonomy returns the default taxonomy extended by the configured
// files and inline categories.
func (c *Config) BuildTaxonomy() (*taxonomy.Taxonomy, error) {
	tx := taxonomy.Default()
	for _, path := range c.Taxonomy.Files {
		if err := tx.LoadFile(path); err != nil {
			return nil, err
		}
	}
	for _, e := range c.Taxonomy.Categories {
		if err := tx.Add(e); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// BuildRegistry registers the enabled agents. With no agents configured,
// every preset is registered.
func (c *Config) BuildRegistry(tx *taxonomy.Taxonomy, logger core.Logger) (*registry.Registry, error) {
	agents := c.Agents
	if len(agents) == 0 {
		for _, name := range adapters.ListPresets() {
			agents = append(agents, AgentConfig{Preset: name})
		}
	}

	reg := registry.New(tx)
	opts := []adapters.Option{adapters.WithLogger(logger), adapters.WithTaxonomy(tx)}
	for _, a := range agents {
		if !a.IsEnabled() {
			continue
		}
		agent, err := a.build(opts)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(agent); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *AgentConfig) build(opts []adapters.Option) (*registry.Agent, error) {
	id := a.agentID()
	agent := &registry.Agent{
		ID:      id,
		Speed:   registry.ParseSpeedClass(a.Speed),
		Timeout: a.Timeout,
	}

	var tool adapters.Config
	var parse adapters.Parser
	if a.Preset != "" {
		p, ok := adapters.Presets[a.Preset]
		if !ok {
			return nil, errors.E(errors.KindConfig, "config.BuildRegistry", "unknown preset "+a.Preset, errors.ErrInvalidConfig)
		}
		tool, parse = overlay(p.Config, a.Tool), p.Parser
		agent.Priority = p.Priority
		if a.Speed == "" {
			agent.Speed = registry.ParseSpeedClass(p.Speed)
		}
		if a.Timeout == 0 {
			agent.Timeout = p.Timeout
		}
	} else {
		tool, parse = a.Tool, adapters.Parsers[a.Tool.Format]
		if tool.Name == "" {
			tool.Name = id
		}
	}
	if a.Priority != nil {
		agent.Priority = *a.Priority
	}

	agent.Adapter = adapters.New(tool, parse, opts...)
	return agent, nil
}

// overlay applies the non-zero fields of o over a preset configuration.
func overlay(base, o adapters.Config) adapters.Config {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Version != "" {
		base.Version = o.Version
	}
	if o.Binary != "" {
		base.Binary = o.Binary
	}
	if len(o.Args) > 0 {
		base.Args = o.Args
	}
	if len(o.OKExitCodes) > 0 {
		base.OKExitCodes = o.OKExitCodes
	}
	if len(o.Capabilities) > 0 {
		base.Capabilities = o.Capabilities
	}
	if len(o.Env) > 0 {
		base.Env = o.Env
	}
	if o.OutputExt != "" {
		base.OutputExt = o.OutputExt
	}
	if o.DefaultConfidence > 0 {
		base.DefaultConfidence = o.DefaultConfidence
	}
	if o.KillGrace > 0 {
		base.KillGrace = o.KillGrace
	}
	return base
}

// BuildPlan converts the configured phases. With none configured, agents
// are grouped into fast, medium and slow phases. References to disabled
// agents are dropped, and so are phases left without agents.
func (c *Config) BuildPlan(reg *registry.Registry) (*orchestrator.Plan, error) {
	plan := &orchestrator.Plan{Budget: c.Plan.Budget, DispatchRate: c.Plan.DispatchRate}
	if len(c.Plan.Phases) == 0 {
		plan.Phases = phasesBySpeed(reg)
		return plan, plan.Validate(reg)
	}

	disabled := make(map[string]bool)
	for _, a := range c.Agents {
		if !a.IsEnabled() {
			disabled[a.agentID()] = true
		}
	}

	for _, pc := range c.Plan.Phases {
		if len(pc.Agents) == 0 {
			ph, err := orchestrator.PhaseForCapability(reg, pc.Name, pc.Category, pc.Concurrency)
			if err != nil {
				return nil, err
			}
			plan.Phases = append(plan.Phases, ph)
			continue
		}
		ph := orchestrator.Phase{Name: pc.Name, Category: pc.Category, Concurrency: pc.Concurrency}
		for _, ref := range pc.Agents {
			if disabled[ref.ID] {
				continue
			}
			ph.Agents = append(ph.Agents, orchestrator.AgentRef{ID: ref.ID, Timeout: ref.Timeout, Options: ref.options()})
		}
		if len(ph.Agents) > 0 {
			plan.Phases = append(plan.Phases, ph)
		}
	}
	return plan, plan.Validate(reg)
}

func (r AgentRefConfig) options() core.Options {
	opts := core.Options{}
	if len(r.ExtraArgs) > 0 {
		opts[core.OptionExtraArgs] = r.ExtraArgs
	}
	if len(r.Env) > 0 {
		opts[core.OptionEnv] = r.Env
	}
	if r.WorkDir != "" {
		opts[core.OptionWorkDir] = r.WorkDir
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func phasesBySpeed(reg *registry.Registry) []orchestrator.Phase {
	bySpeed := make(map[registry.SpeedClass][]orchestrator.AgentRef)
	for _, a := range reg.List() {
		bySpeed[a.Speed] = append(bySpeed[a.Speed], orchestrator.AgentRef{ID: a.ID})
	}
	var out []orchestrator.Phase
	for _, speed := range []registry.SpeedClass{registry.SpeedFast, registry.SpeedMedium, registry.SpeedSlow} {
		if refs := bySpeed[speed]; len(refs) > 0 {
			out = append(out, orchestrator.Phase{Name: string(speed), Agents: refs})
		}
	}
	return out
}

// ScoringParams returns the scoring configuration with the selected model.
func (c *Config) ScoringParams() (scoring.Config, error) {
	sc := c.Scoring.Config
	model, err := scoring.ParseModel(c.Scoring.Model)
	if err != nil {
		return sc, err
	}
	switch model.(type) {
	case *scoring.WeightedSumModel:
		if c.Scoring.Weights != nil {
			model = c.Scoring.Weights
		}
	case *scoring.LogisticModel:
		if c.Scoring.Logistic != nil {
			model = c.Scoring.Logistic
		}
	}
	sc.Model = model
	return sc, nil
}

// Compressor returns the compressor for retained raw output.
func (c *Config) Compressor() (*compress.Compressor, error) {
	alg, err := compress.ParseAlgorithm(c.Output.Compression)
	if err != nil {
		return nil, errors.E(errors.KindConfig, "config.Compressor", err.Error(), errors.ErrInvalidConfig)
	}
	return compress.NewCompressor(alg, compress.LevelDefault), nil
}

// Build assembles the full pipeline and returns it with its registry.
func (c *Config) Build(logger core.Logger, m metrics.Collector) (*pipeline.Pipeline, *registry.Registry, error) {
	tx, err := c.BuildTaxonomy()
	if err != nil {
		return nil, nil, err
	}
	reg, err := c.BuildRegistry(tx, logger)
	if err != nil {
		return nil, nil, err
	}
	plan, err := c.BuildPlan(reg)
	if err != nil {
		return nil, nil, err
	}
	sc, err := c.ScoringParams()
	if err != nil {
		return nil, nil, err
	}
	comp, err := c.Compressor()
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Registry:        reg,
		Plan:            plan,
		Correlation:     c.Correlation,
		Scoring:         sc,
		RetainRawOutput: c.Output.RetainRawOutput,
		Compressor:      comp,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, reg, nil
}
