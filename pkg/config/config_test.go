package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/solaudit/pkg/adapters"
	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/scoring"
)

const fullConfig = `
log_level: debug
taxonomy:
  categories:
    - code: SWC-107
      aliases: [my-reentrancy]
agents:
  - id: slither
    preset: slither
    timeout: 3m
    binary: /opt/bin/slither
  - id: mythril
    preset: mythril
    enabled: ${SOLAUDIT_SYMBOLIC}
  - id: custom
    binary: my-analyzer
    format: sarif
    speed: slow
    priority: 7
    capabilities: [SWC-101]
plan:
  budget: 45m
  dispatch_rate: 2
  phases:
    - name: static
      agents:
        - slither
        - id: custom
          timeout: 90s
          extra_args: [--strict]
    - name: symbolic
      agents: [mythril]
correlation:
  tolerance_lines: 3
  reliability:
    slither: 0.7
scoring:
  threshold: ${SOLAUDIT_THRESHOLD}
  escalate_agreement: 0.9
  model: logistic
output:
  retain_raw_output: true
  compression: none
`

func TestParse_Full(t *testing.T) {
	t.Setenv("SOLAUDIT_SYMBOLIC", "false")
	t.Setenv("SOLAUDIT_THRESHOLD", "0.55")

	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Agents, 3)
	assert.Equal(t, 3*time.Minute, cfg.Agents[0].Timeout)
	assert.Equal(t, "/opt/bin/slither", cfg.Agents[0].Tool.Binary)
	assert.False(t, cfg.Agents[1].IsEnabled())
	assert.Equal(t, []string{"SWC-101"}, cfg.Agents[2].Tool.Capabilities)

	require.Len(t, cfg.Plan.Phases, 2)
	assert.Equal(t, "slither", cfg.Plan.Phases[0].Agents[0].ID)
	assert.Equal(t, 90*time.Second, cfg.Plan.Phases[0].Agents[1].Timeout)
	assert.Equal(t, 45*time.Minute, cfg.Plan.Budget)

	assert.Equal(t, 3, cfg.Correlation.ToleranceLines)
	assert.True(t, cfg.Correlation.UseFunctionBoundaries, "defaults survive a partial section")
	assert.Equal(t, 0.7, cfg.Correlation.Reliability["slither"])

	assert.Equal(t, 0.55, cfg.Scoring.Threshold)
	assert.Equal(t, scoring.DefaultDegradedPenalty, cfg.Scoring.DegradedPenalty)
	assert.Equal(t, "none", cfg.Output.Compression)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("scoring:\n  treshold: 0.4\n"))
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate id", "agents:\n  - preset: slither\n  - preset: slither\n"},
		{"unknown preset", "agents:\n  - preset: oyente\n"},
		{"custom without format", "agents:\n  - id: x\n    binary: x\n"},
		{"custom without binary", "agents:\n  - id: x\n    format: sarif\n"},
		{"bad speed", "agents:\n  - preset: slither\n    speed: warp\n"},
		{"bad confidence", "agents:\n  - preset: slither\n    default_confidence: 2\n"},
		{"unconfigured phase agent", "agents:\n  - preset: slither\nplan:\n  phases:\n    - name: p\n      agents: [mythril]\n"},
		{"empty phase", "plan:\n  phases:\n    - name: p\n"},
		{"negative concurrency", "plan:\n  phases:\n    - name: p\n      category: reentrancy\n      concurrency: -1\n"},
		{"negative budget", "plan:\n  budget: -1s\n"},
		{"threshold", "scoring:\n  threshold: 1.5\n"},
		{"unknown model", "scoring:\n  model: forest\n"},
		{"negative weight", "scoring:\n  weights:\n    agreement_weight: -1\n"},
		{"tolerance", "correlation:\n  tolerance_lines: -2\n"},
		{"reliability", "correlation:\n  reliability:\n    slither: 1.2\n"},
		{"compression", "output:\n  compression: lz4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errors.KindConfig, errors.GetKind(err))
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildRegistry_Presets(t *testing.T) {
	cfg := Default()
	tx, err := cfg.BuildTaxonomy()
	require.NoError(t, err)

	reg, err := cfg.BuildRegistry(tx, nil)
	require.NoError(t, err)
	assert.Len(t, reg.List(), len(adapters.Presets))

	slither, ok := reg.Get("slither")
	require.True(t, ok)
	assert.Equal(t, registry.SpeedFast, slither.Speed)
	assert.Equal(t, 10, slither.Priority)
	assert.Equal(t, 5*time.Minute, slither.EffectiveTimeout())
}

func TestBuild_Full(t *testing.T) {
	t.Setenv("SOLAUDIT_SYMBOLIC", "false")
	t.Setenv("SOLAUDIT_THRESHOLD", "0.55")
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	p, reg, err := cfg.Build(core.NopLogger{}, metrics.NewInMemoryCollector())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "logistic/v1", p.ModelVersion())

	_, ok := reg.Get("mythril")
	assert.False(t, ok, "disabled agents are not registered")

	custom, ok := reg.Get("custom")
	require.True(t, ok)
	assert.Equal(t, "custom", custom.ToolName())
	assert.Equal(t, 7, custom.Priority)
	assert.Equal(t, registry.SpeedSlow, custom.Speed)

	slither, _ := reg.Get("slither")
	assert.Equal(t, 3*time.Minute, slither.EffectiveTimeout())
	assert.Equal(t, 10, slither.Priority)

	code, err := reg.Taxonomy().Canonicalize("my-reentrancy")
	require.NoError(t, err)
	assert.Equal(t, "SWC-107", code)

	plan, err := cfg.BuildPlan(reg)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1, "phase with only disabled agents is dropped")
	assert.Equal(t, "static", plan.Phases[0].Name)
	require.Len(t, plan.Phases[0].Agents, 2)
	assert.Equal(t, []string{"--strict"}, plan.Phases[0].Agents[1].Options.Strings(core.OptionExtraArgs))
	assert.Equal(t, 2.0, plan.DispatchRate)
}

func TestBuildPlan_Capability(t *testing.T) {
	cfg, err := Parse([]byte("plan:\n  phases:\n    - name: reentrancy\n      category: reentrancy\n      concurrency: 2\n"))
	require.NoError(t, err)

	tx, err := cfg.BuildTaxonomy()
	require.NoError(t, err)
	reg, err := cfg.BuildRegistry(tx, nil)
	require.NoError(t, err)

	plan, err := cfg.BuildPlan(reg)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)

	var ids []string
	for _, ref := range plan.Phases[0].Agents {
		ids = append(ids, ref.ID)
	}
	assert.Equal(t, []string{"slither", "aderyn", "semgrep", "mythril"}, ids)
	assert.Equal(t, 2, plan.Phases[0].Concurrency)
	assert.Equal(t, "reentrancy", plan.Phases[0].Category)
}

func TestBuildPlan_BySpeed(t *testing.T) {
	cfg := Default()
	tx, err := cfg.BuildTaxonomy()
	require.NoError(t, err)
	reg, err := cfg.BuildRegistry(tx, nil)
	require.NoError(t, err)

	plan, err := cfg.BuildPlan(reg)
	require.NoError(t, err)

	got := map[string][]string{}
	var names []string
	for _, ph := range plan.Phases {
		names = append(names, ph.Name)
		for _, ref := range ph.Agents {
			got[ph.Name] = append(got[ph.Name], ref.ID)
		}
	}
	assert.Equal(t, []string{"fast", "medium", "slow"}, names)
	assert.Equal(t, []string{"slither", "aderyn", "solhint"}, got["fast"])
	assert.Equal(t, []string{"semgrep"}, got["medium"])
	assert.Equal(t, []string{"mythril"}, got["slow"])
}

func TestScoringParams(t *testing.T) {
	cfg, err := Parse([]byte("scoring:\n  model: logistic\n  logistic:\n    name: bench-2024\n    bias: -1\n    agreement: 2\n"))
	require.NoError(t, err)
	sc, err := cfg.ScoringParams()
	require.NoError(t, err)
	assert.Equal(t, "logistic/bench-2024", sc.Model.Version())

	cfg, err = Parse([]byte("scoring:\n  weights:\n    agreement_weight: 1\n"))
	require.NoError(t, err)
	sc, err = cfg.ScoringParams()
	require.NoError(t, err)
	w, ok := sc.Model.(*scoring.WeightedSumModel)
	require.True(t, ok)
	assert.Equal(t, 1.0, w.AgreementWeight)
}

func TestCompressor(t *testing.T) {
	c, err := Default().Compressor()
	require.NoError(t, err)
	assert.Equal(t, "zstd", string(c.Algorithm()))
}
