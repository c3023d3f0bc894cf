// Package orchestrator runs a phase plan against one artifact. Phases run
// in order; agents inside a phase run concurrently up to the phase bound,
// each under its own timeout, and no agent's failure reaches its siblings.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/exploopio/solaudit/pkg/bus"
	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/registry"
)

// Skip and failure details recorded on AgentRuns.
const (
	ReasonUnavailable     = "availability probe failed"
	ReasonBudgetExhausted = "run budget exhausted"
	ReasonCancelled       = "run cancelled"
)

// Config configures an Orchestrator.
type Config struct {
	Registry *registry.Registry
	Logger   core.Logger
	Metrics  metrics.Collector

	// RetainRawOutput keeps each successful agent's stdout on its AgentRun.
	RetainRawOutput bool

	// Compressor packs retained output (default compress.Default).
	Compressor *compress.Compressor
}

// Orchestrator executes phase plans. One Orchestrator may serve concurrent
// runs; each run owns its RunState and context bus.
type Orchestrator struct {
	registry   *registry.Registry
	logger     core.Logger
	metrics    metrics.Collector
	retainRaw  bool
	compressor *compress.Compressor
}

// New creates an orchestrator.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, errors.E(errors.KindInvalidInput, "orchestrator.New", "registry is required")
	}
	o := &Orchestrator{
		registry:   cfg.Registry,
		logger:     core.LoggerOrNop(cfg.Logger),
		metrics:    metrics.OrNop(cfg.Metrics),
		retainRaw:  cfg.RetainRawOutput,
		compressor: cfg.Compressor,
	}
	if o.compressor == nil {
		o.compressor = compress.Default
	}
	return o, nil
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Run executes plan against artifact. It fails only when the artifact is
// unreadable or the plan is invalid; agent failures, budget exhaustion and
// cancellation are recorded in the returned report.
func (o *Orchestrator) Run(ctx context.Context, artifact string, plan *Plan) (*core.RunReport, error) {
	if err := checkArtifact(artifact); err != nil {
		return nil, err
	}
	if err := plan.Validate(o.registry); err != nil {
		return nil, err
	}
	plan = plan.named()

	st := newRunState(artifact, plan.Budget, time.Now())
	defer st.bus.Close()

	var limiter *rate.Limiter
	if plan.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(plan.DispatchRate), 1)
	}

	o.logger.Info("run %s: %s (%d phases)", st.id, artifact, len(plan.Phases))
	timer := metrics.NewTimer(o.metrics, metrics.RunDuration.Name)

	for i := range plan.Phases {
		ph := &plan.Phases[i]
		switch {
		case ctx.Err() != nil:
			st.markCancelled()
			o.skipPhase(st, ph, ReasonCancelled)
		case st.budgetExpired(time.Now()):
			st.markBudgetExhausted()
			o.skipPhase(st, ph, ReasonBudgetExhausted)
		default:
			o.runPhase(ctx, st, ph, limiter)
		}
	}
	if ctx.Err() != nil {
		st.markCancelled()
	}

	timer.ObserveDuration()
	report := st.report()

	outcome := "completed"
	switch {
	case report.Cancelled:
		outcome = "cancelled"
	case report.BudgetExhausted:
		outcome = "budget_exhausted"
	}
	o.metrics.CounterInc(metrics.RunsTotal.Name, "outcome", outcome)

	counts := report.CountByStatus()
	o.logger.Info("run %s %s in %s: %d success, %d timeout, %d error, %d skipped, %d findings",
		st.id, outcome, report.Duration.Round(time.Millisecond),
		counts[core.StatusSuccess], counts[core.StatusTimeout], counts[core.StatusError],
		counts[core.StatusSkipped], len(report.Findings))
	return report, nil
}

// checkArtifact verifies the artifact exists and can be opened.
func checkArtifact(path string) error {
	const op = "orchestrator.Run"
	if path == "" {
		return errors.E(errors.KindPrecondition, op, "artifact path is empty", errors.ErrArtifactUnreadable)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.E(errors.KindPrecondition, op, err.Error(), errors.ErrArtifactUnreadable)
	}
	return f.Close()
}

// skipPhase records every agent in ph as SKIPPED.
func (o *Orchestrator) skipPhase(st *RunState, ph *Phase, reason string) {
	o.logger.Warn("phase %s skipped: %s", ph.Name, reason)
	for _, ref := range ph.Agents {
		agent, _ := o.registry.Get(ref.ID)
		run := st.newRun(agent.ID, agent.ToolName(), ph.Name)
		o.skip(st, run, reason)
	}
	st.addPhase(core.PhaseReport{Name: ph.Name, Category: ph.Category, Skipped: true})
}

func (o *Orchestrator) skip(st *RunState, run *core.AgentRun, reason string) {
	if err := st.apply(func() error { return run.Skip(reason) }); err != nil {
		o.logger.Error("%v", err)
		return
	}
	o.metrics.CounterInc(metrics.AgentRunsTotal.Name, "agent", run.AgentID, "status", string(core.StatusSkipped))
}

type job struct {
	ref   AgentRef
	agent *registry.Agent
	run   *core.AgentRun
}

// runPhase probes, dispatches and drains one phase, then publishes its
// findings to the bus.
func (o *Orchestrator) runPhase(ctx context.Context, st *RunState, ph *Phase, limiter *rate.Limiter) {
	start := time.Now()
	st.enterPhase(ph.Name)
	snap := st.bus.Snapshot()

	jobs := make([]job, 0, len(ph.Agents))
	for _, ref := range ph.Agents {
		agent, _ := o.registry.Get(ref.ID)
		jobs = append(jobs, job{ref: ref, agent: agent, run: st.newRun(agent.ID, agent.ToolName(), ph.Name)})
	}

	available := o.probe(ctx, jobs)
	ready := make([]job, 0, len(jobs))
	for _, j := range jobs {
		if !available[j.agent.ID] {
			o.logger.Warn("[%s] %s: skipped, %s", ph.Name, j.run.Key, ReasonUnavailable)
			o.skip(st, j.run, ReasonUnavailable)
			continue
		}
		ready = append(ready, j)
	}
	sort.SliceStable(ready, func(a, b int) bool {
		return ready[a].agent.Priority < ready[b].agent.Priority
	})

	workers := ph.workers()
	o.logger.Info("[%s] dispatching %d agents (%d workers)", ph.Name, len(ready), workers)

	results := make([][]core.Finding, len(ready))
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	for i, j := range ready {
		if err := acquire(ctx, sem, limiter); err != nil {
			for _, rest := range ready[i:] {
				o.skip(st, rest.run, ReasonCancelled)
			}
			break
		}
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.dispatch(ctx, st, j, snap)
		}(i, j)
	}
	wg.Wait()

	var findings []core.Finding
	succeeded := 0
	for i, fs := range results {
		findings = append(findings, fs...)
		if ready[i].run.Status == core.StatusSuccess {
			succeeded++
		}
	}
	st.appendFindings(findings)

	meta := map[string]string{
		"run_id":    st.id,
		"agents":    strconv.Itoa(len(jobs)),
		"succeeded": strconv.Itoa(succeeded),
	}
	if err := st.bus.Publish(ph.Name, findings, meta); err != nil {
		o.logger.Error("[%s] publish: %v", ph.Name, err)
	}

	d := time.Since(start)
	o.metrics.HistogramObserve(metrics.PhaseDuration.Name, d.Seconds(), "phase", ph.Name)
	st.addPhase(core.PhaseReport{
		Name:         ph.Name,
		Category:     ph.Category,
		StartedAt:    start,
		Duration:     d,
		FindingCount: len(findings),
	})
	o.logger.Info("[%s] done in %s: %d/%d agents succeeded, %d findings",
		ph.Name, d.Round(time.Millisecond), succeeded, len(jobs), len(findings))
}

// probe checks availability once per distinct agent in the phase.
func (o *Orchestrator) probe(ctx context.Context, jobs []job) map[string]bool {
	out := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if _, done := out[j.agent.ID]; done {
			continue
		}
		out[j.agent.ID] = safeProbe(ctx, j.agent)
	}
	return out
}

func safeProbe(ctx context.Context, agent *registry.Agent) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return agent.Adapter.IsAvailable(ctx)
}

func acquire(ctx context.Context, sem *semaphore.Weighted, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

type outcome struct {
	raw *core.RawOutput
	err error
}

// dispatch runs one agent to a terminal status and returns its findings.
// The adapter call races the agent deadline, so an adapter that ignores
// its context is abandoned at the deadline rather than waited on.
func (o *Orchestrator) dispatch(ctx context.Context, st *RunState, j job, snap bus.Snapshot) []core.Finding {
	timeout := timeoutFor(j.ref, j.agent)
	start := time.Now()
	if err := st.apply(func() error { return j.run.Start(start) }); err != nil {
		o.logger.Error("%v", err)
		return nil
	}

	o.metrics.GaugeInc(metrics.AgentsActive.Name)
	defer o.metrics.GaugeDec(metrics.AgentsActive.Name)

	agentCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.E(errors.KindInternal, "adapter.Analyze", fmt.Sprintf("panic: %v", r))}
			}
		}()
		raw, err := j.agent.Adapter.Analyze(agentCtx, st.artifact, bus.WithSnapshot(j.ref.Options, snap), timeout)
		done <- outcome{raw: raw, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-agentCtx.Done():
		select {
		case out = <-done:
		default:
			out.err = agentCtx.Err()
		}
	}
	d := time.Since(start)

	var findings []core.Finding
	status := core.StatusSuccess
	switch {
	case out.err == nil:
		findings = st.claimIDs(o.normalize(j, out.raw))
		err := st.apply(func() error {
			if err := j.run.Succeed(findings, d); err != nil {
				return err
			}
			if o.retainRaw && out.raw != nil && len(out.raw.Stdout) > 0 {
				if blob, err := o.compressor.Pack(out.raw.Stdout); err == nil {
					j.run.RawOutput = &blob
				}
			}
			return nil
		})
		if err != nil {
			o.logger.Error("%v", err)
		}
		o.logger.Debug("[%s] %s: %d findings in %s", j.run.Phase, j.run.Key, len(findings), d.Round(time.Millisecond))

	case ctx.Err() != nil:
		status = core.StatusError
		o.fail(st, j.run, status, "", ReasonCancelled, d)

	case agentCtx.Err() == context.DeadlineExceeded || errors.IsTimeoutError(out.err):
		status = core.StatusTimeout
		detail := fmt.Sprintf("timed out after %s", timeout)
		o.fail(st, j.run, status, errors.FaultTimeout, detail, d)
		o.logger.Warn("[%s] %s: %s", j.run.Phase, j.run.Key, detail)

	default:
		status = core.StatusError
		var reason errors.FaultReason
		if fault, ok := errors.AsToolFault(out.err); ok {
			reason = fault.Reason
		}
		o.fail(st, j.run, status, reason, out.err.Error(), d)
		o.logger.Warn("[%s] %s: %v", j.run.Phase, j.run.Key, out.err)
	}

	o.metrics.CounterInc(metrics.AgentRunsTotal.Name, "agent", j.agent.ID, "status", string(status))
	o.metrics.HistogramObserve(metrics.AgentDuration.Name, d.Seconds(), "agent", j.agent.ID)
	if len(findings) > 0 {
		o.metrics.CounterAdd(metrics.AgentFindingsTotal.Name, float64(len(findings)), "agent", j.agent.ID)
	}
	return findings
}

func (o *Orchestrator) fail(st *RunState, run *core.AgentRun, status core.AgentStatus, reason errors.FaultReason, detail string, d time.Duration) {
	if err := st.apply(func() error { return run.Fail(status, reason, detail, d) }); err != nil {
		o.logger.Error("%v", err)
	}
}

// normalize converts raw output, treating a panicking normalizer as
// having produced nothing.
func (o *Orchestrator) normalize(j job, raw *core.RawOutput) (findings []core.Finding) {
	if raw == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("[%s] normalize panic: %v", j.agent.ID, r)
			findings = nil
		}
	}()

	tool := j.agent.ToolName()
	out := j.agent.Adapter.Normalize(raw)
	for i := range out {
		if out[i].ToolName == "" {
			out[i].ToolName = tool
		}
	}
	return out
}
