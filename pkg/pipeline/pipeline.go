// Package pipeline wires one analysis run end to end: the orchestrator
// collects findings, the correlation engine clusters them and the scoring
// pipeline turns clusters into verdicts.
package pipeline

import (
	"context"
	"time"

	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/correlation"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/orchestrator"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/scoring"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// Summary counts a run's verdicts.
type Summary struct {
	Findings       int                      `json:"findings"`
	Clusters       int                      `json:"clusters"`
	Verdicts       severity.CountBySeverity `json:"verdicts"`
	Reported       severity.CountBySeverity `json:"reported"`
	FalsePositives int                      `json:"false_positives"`
	Degraded       int                      `json:"degraded"`
	Agents         map[core.AgentStatus]int `json:"agents"`
}

// Result is everything a report consumer needs from one run.
type Result struct {
	Report       *core.RunReport `json:"report"`
	Clusters     []core.Cluster  `json:"clusters"`
	Verdicts     []core.Verdict  `json:"verdicts"`
	Summary      Summary         `json:"summary"`
	ModelVersion string          `json:"model_version"`
}

// Reported returns the verdicts above the confidence threshold, in order.
func (r *Result) Reported() []core.Verdict {
	out := make([]core.Verdict, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		if !v.IsFalsePositive {
			out = append(out, v)
		}
	}
	return out
}

// Cluster returns the cluster a verdict was derived from.
func (r *Result) Cluster(id string) (core.Cluster, bool) {
	for _, c := range r.Clusters {
		if c.ID == id {
			return c, true
		}
	}
	return core.Cluster{}, false
}

// Config configures a Pipeline.
type Config struct {
	Registry *registry.Registry
	Plan     *orchestrator.Plan

	Correlation correlation.Config
	Scoring     scoring.Config

	// RetainRawOutput and Compressor are passed through to the orchestrator.
	RetainRawOutput bool
	Compressor      *compress.Compressor

	Logger  core.Logger
	Metrics metrics.Collector
}

// Pipeline runs plans against artifacts. It is safe for concurrent use;
// every Run owns its own state.
type Pipeline struct {
	plan     *orchestrator.Plan
	profiles []correlation.ToolProfile
	orch     *orchestrator.Orchestrator
	engine   *correlation.Engine
	scorer   *scoring.Pipeline
	logger   core.Logger
}

// New validates cfg and builds the three stages. Correlation tool profiles
// default to the registry's agents and the taxonomy to the registry's.
// Each run scores agreement only against the profiled tools that completed.
func New(cfg Config) (*Pipeline, error) {
	const op = "pipeline.New"
	if cfg.Registry == nil {
		return nil, errors.E(errors.KindInvalidInput, op, "registry is required")
	}
	if err := cfg.Plan.Validate(cfg.Registry); err != nil {
		return nil, err
	}

	logger := core.LoggerOrNop(cfg.Logger)
	orch, err := orchestrator.New(&orchestrator.Config{
		Registry:        cfg.Registry,
		Logger:          logger,
		Metrics:         cfg.Metrics,
		RetainRawOutput: cfg.RetainRawOutput,
		Compressor:      cfg.Compressor,
	})
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	cc := cfg.Correlation
	if len(cc.Tools) == 0 {
		cc.Tools = correlation.ProfilesFromRegistry(cfg.Registry)
	}
	if cc.Taxonomy == nil {
		cc.Taxonomy = cfg.Registry.Taxonomy()
	}
	if cc.Logger == nil {
		cc.Logger = logger
	}
	if cc.Metrics == nil {
		cc.Metrics = cfg.Metrics
	}
	engine, err := correlation.New(cc)
	if err != nil {
		return nil, err
	}

	sc := cfg.Scoring
	if sc.Logger == nil {
		sc.Logger = logger
	}
	if sc.Metrics == nil {
		sc.Metrics = cfg.Metrics
	}
	scorer, err := scoring.New(sc)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		plan:     cfg.Plan,
		profiles: cc.Tools,
		orch:     orch,
		engine:   engine,
		scorer:   scorer,
		logger:   logger,
	}, nil
}

// ModelVersion returns the scoring model version stamped on verdicts.
func (p *Pipeline) ModelVersion() string {
	return p.scorer.ModelVersion()
}

// Run analyzes artifact. When cc is nil the code context is inferred from
// the artifact's sources; if that fails every verdict is scored degraded.
// Only precondition failures (unreadable artifact, invalid plan) are
// returned as errors.
func (p *Pipeline) Run(ctx context.Context, artifact string, cc *scoring.CodeContext) (*Result, error) {
	report, err := p.orch.Run(ctx, artifact, p.plan)
	if err != nil {
		return nil, err
	}

	if cc == nil {
		cc, err = scoring.InferCodeContext(artifact)
		if err != nil {
			p.logger.Warn("[pipeline] no code context for %s: %v", artifact, err)
		}
	}

	start := time.Now()
	clusters := p.engine.CorrelateWith(report.Findings, correlation.ProfilesForRun(p.profiles, report))
	verdicts := p.scorer.Score(clusters, cc)
	p.logger.Debug("[pipeline] run %s: %d findings -> %d clusters -> %d verdicts in %s",
		report.RunID, len(report.Findings), len(clusters), len(verdicts), time.Since(start).Round(time.Millisecond))

	return &Result{
		Report:       report,
		Clusters:     clusters,
		Verdicts:     verdicts,
		Summary:      summarize(report, clusters, verdicts),
		ModelVersion: p.scorer.ModelVersion(),
	}, nil
}

func summarize(report *core.RunReport, clusters []core.Cluster, verdicts []core.Verdict) Summary {
	s := Summary{
		Findings: len(report.Findings),
		Clusters: len(clusters),
		Agents:   report.CountByStatus(),
	}
	for _, v := range verdicts {
		s.Verdicts.Increment(v.FinalSeverity)
		if v.IsFalsePositive {
			s.FalsePositives++
		} else {
			s.Reported.Increment(v.FinalSeverity)
		}
		if v.Explanation.Degraded {
			s.Degraded++
		}
	}
	return s
}
