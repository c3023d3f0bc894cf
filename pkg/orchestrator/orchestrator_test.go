package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/solaudit/pkg/bus"
	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/mocks"
	"github.com/exploopio/solaudit/pkg/registry"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Vault.sol")
	require.NoError(t, os.WriteFile(path, []byte("pragma solidity ^0.8.0;\ncontract Vault {}\n"), 0o600))
	return path
}

func reentrancy(id string, line int) core.Finding {
	return core.Finding{
		ID:            id,
		Category:      "SWC-107",
		SeverityRaw:   severity.High,
		ConfidenceRaw: 0.8,
		Location:      core.Location{File: "Vault.sol", StartLine: line, EndLine: line},
	}
}

type harness struct {
	reg     *registry.Registry
	orch    *Orchestrator
	metrics *metrics.InMemoryCollector
}

func newHarness(t *testing.T, agents ...*registry.Agent) *harness {
	t.Helper()
	reg := registry.New(nil)
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	m := metrics.NewInMemoryCollector()
	o, err := New(&Config{Registry: reg, Metrics: m})
	require.NoError(t, err)
	return &harness{reg: reg, orch: o, metrics: m}
}

func refs(ids ...string) []AgentRef {
	out := make([]AgentRef, len(ids))
	for i, id := range ids {
		out[i] = AgentRef{ID: id}
	}
	return out
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestRun_BulkheadIsolation(t *testing.T) {
	x := mocks.New("x", "SWC-107").Failing(errors.NewToolFault("x", errors.FaultNonzeroExit, "boom", nil))
	y := mocks.New("y", "SWC-107").WithFindings(reentrancy("y-1", 10))
	h := newHarness(t, &registry.Agent{ID: "x", Adapter: x}, &registry.Agent{ID: "y", Adapter: y})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "static", Agents: refs("x", "y"), Concurrency: 2}},
	})
	require.NoError(t, err)

	xr := report.Run("x#1")
	yr := report.Run("y#1")
	require.NotNil(t, xr)
	require.NotNil(t, yr)

	assert.Equal(t, core.StatusError, xr.Status)
	assert.Equal(t, errors.FaultNonzeroExit, xr.FaultReason)
	assert.Contains(t, xr.ErrorDetail, "boom")
	assert.Empty(t, xr.Findings)

	assert.Equal(t, core.StatusSuccess, yr.Status)
	assert.Len(t, yr.Findings, 1)
	assert.Empty(t, yr.ErrorDetail)
	assert.Equal(t, "y", yr.Findings[0].ToolName)

	assert.Len(t, report.Findings, 1)
	assert.Equal(t, 1.0, h.metrics.GetCounter(metrics.AgentRunsTotal.Name, "agent", "x", "status", "ERROR"))
	assert.Equal(t, 1.0, h.metrics.GetCounter(metrics.AgentRunsTotal.Name, "agent", "y", "status", "SUCCESS"))
}

func TestRun_PanicIsolated(t *testing.T) {
	p := mocks.New("p").Panicking("nil map")
	ok := mocks.New("ok").WithFindings(reentrancy("ok-1", 3))
	h := newHarness(t, &registry.Agent{ID: "p", Adapter: p}, &registry.Agent{ID: "ok", Adapter: ok})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "static", Agents: refs("p", "ok")}},
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, report.Run("p#1").Status)
	assert.Contains(t, report.Run("p#1").ErrorDetail, "nil map")
	assert.Equal(t, core.StatusSuccess, report.Run("ok#1").Status)
}

func TestRun_TimeoutIsolation(t *testing.T) {
	slow := mocks.New("slow").Sleeping(5*time.Second, false)
	fast := mocks.New("fast").WithFindings(reentrancy("f-1", 1))
	h := newHarness(t, &registry.Agent{ID: "slow", Adapter: slow}, &registry.Agent{ID: "fast", Adapter: fast})

	start := time.Now()
	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{
			Name:   "static",
			Agents: []AgentRef{{ID: "slow", Timeout: time.Second}, {ID: "fast"}},
		}},
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	run := report.Run("slow#1")
	assert.Equal(t, core.StatusTimeout, run.Status)
	assert.Equal(t, errors.FaultTimeout, run.FaultReason)
	assert.NotEmpty(t, run.ErrorDetail)
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.GreaterOrEqual(t, run.Duration, time.Second)

	assert.Equal(t, core.StatusSuccess, report.Run("fast#1").Status)
	assert.Equal(t, time.Second, slow.AnalyzeCalls()[0].Timeout)
}

func TestRun_AdapterTimeoutFault(t *testing.T) {
	a := mocks.New("a").Failing(errors.NewToolFault("a", errors.FaultTimeout, "killed", nil))
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: a})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{Phases: []Phase{{Name: "p", Agents: refs("a")}}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusTimeout, report.Run("a#1").Status)
}

func TestRun_UnavailableSkipped(t *testing.T) {
	missing := mocks.New("echidna")
	missing.Unavailable = true
	present := mocks.New("slither")
	h := newHarness(t, &registry.Agent{ID: "echidna", Adapter: missing}, &registry.Agent{ID: "slither", Adapter: present})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "p", Agents: refs("echidna", "slither", "echidna")}},
	})
	require.NoError(t, err)

	for _, r := range report.RunsFor("echidna") {
		assert.Equal(t, core.StatusSkipped, r.Status)
		assert.Equal(t, ReasonUnavailable, r.SkipReason)
		assert.Empty(t, r.ErrorDetail)
	}
	assert.Empty(t, missing.AnalyzeCalls())
	assert.Equal(t, 1, missing.IsAvailableCalls())
	assert.Equal(t, core.StatusSuccess, report.Run("slither#1").Status)
}

func TestRun_DuplicateListingIsRetry(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	flaky := mocks.New("flaky").WithFindings(reentrancy("same-id", 7))
	flaky.AnalyzeFn = func(_ context.Context, path string, _ core.Options, _ time.Duration) (*core.RawOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		if attempt == 1 {
			return nil, errors.NewToolFault("flaky", errors.FaultNonzeroExit, "", nil)
		}
		return &core.RawOutput{Tool: "flaky", ArtifactPath: path}, nil
	}
	h := newHarness(t, &registry.Agent{ID: "flaky", Adapter: flaky})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "p", Agents: refs("flaky", "flaky"), Concurrency: 1}},
	})
	require.NoError(t, err)

	runs := report.RunsFor("flaky")
	require.Len(t, runs, 2)
	assert.Equal(t, "flaky#1", runs[0].Key)
	assert.Equal(t, "flaky#2", runs[1].Key)
	assert.Equal(t, core.StatusError, runs[0].Status)
	assert.Equal(t, core.StatusSuccess, runs[1].Status)
}

func TestRun_UniqueFindingIDs(t *testing.T) {
	a := mocks.New("a").WithFindings(reentrancy("dup", 1), reentrancy("", 2))
	b := mocks.New("b").WithFindings(reentrancy("dup", 1))
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: a}, &registry.Agent{ID: "b", Adapter: b})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{Phases: []Phase{{Name: "p", Agents: refs("a", "b")}}})
	require.NoError(t, err)
	require.Len(t, report.Findings, 3)

	seen := map[string]bool{}
	for _, f := range report.Findings {
		assert.NotEmpty(t, f.ID)
		assert.False(t, seen[f.ID], "duplicate id %s", f.ID)
		seen[f.ID] = true
	}
}

func TestRun_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) *mocks.MockAdapter {
		m := mocks.New(name)
		m.AnalyzeFn = func(_ context.Context, path string, _ core.Options, _ time.Duration) (*core.RawOutput, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &core.RawOutput{Tool: name, ArtifactPath: path}, nil
		}
		return m
	}
	h := newHarness(t,
		&registry.Agent{ID: "mythril", Adapter: record("mythril"), Priority: 50},
		&registry.Agent{ID: "slither", Adapter: record("slither"), Priority: 10},
		&registry.Agent{ID: "solhint", Adapter: record("solhint"), Priority: 30},
	)

	_, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "p", Agents: refs("mythril", "solhint", "slither"), Concurrency: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"slither", "solhint", "mythril"}, order)
}

func TestRun_ConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	gate := func(name string) *mocks.MockAdapter {
		m := mocks.New(name)
		m.AnalyzeFn = func(_ context.Context, path string, _ core.Options, _ time.Duration) (*core.RawOutput, error) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return &core.RawOutput{Tool: name, ArtifactPath: path}, nil
		}
		return m
	}
	var agents []*registry.Agent
	var ids []string
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		agents = append(agents, &registry.Agent{ID: id, Adapter: gate(id)})
		ids = append(ids, id)
	}
	h := newHarness(t, agents...)

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{{Name: "p", Agents: refs(ids...), Concurrency: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, report.CountByStatus()[core.StatusSuccess])
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 2, peak)
}

func TestRun_BusVisibleToLaterPhases(t *testing.T) {
	static := mocks.New("slither").WithFindings(reentrancy("s-1", 10), reentrancy("s-2", 20))

	var mu sync.Mutex
	seen := -1
	var seenPhases []string
	reviewer := mocks.New("reviewer")
	reviewer.AnalyzeFn = func(_ context.Context, path string, opts core.Options, _ time.Duration) (*core.RawOutput, error) {
		snap, ok := bus.SnapshotFromOptions(opts)
		mu.Lock()
		defer mu.Unlock()
		if ok {
			seen = len(snap.Findings())
			seenPhases = snap.Phases()
		}
		return &core.RawOutput{Tool: "reviewer", ArtifactPath: path}, nil
	}
	h := newHarness(t, &registry.Agent{ID: "slither", Adapter: static}, &registry.Agent{ID: "reviewer", Adapter: reviewer})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Phases: []Phase{
			{Name: "static", Agents: refs("slither")},
			{Name: "review", Agents: []AgentRef{{ID: "reviewer", Options: core.Options{"model": "x"}}}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, seen)
	assert.Equal(t, []string{"static"}, seenPhases)
	assert.Equal(t, "x", reviewer.AnalyzeCalls()[0].Options.String("model"))
	require.Len(t, report.Phases, 2)
	assert.Equal(t, 2, report.Phases[0].FindingCount)
}

func TestRun_BudgetExhausted(t *testing.T) {
	slow := mocks.New("slow").Sleeping(150*time.Millisecond, true).WithFindings(reentrancy("s", 1))
	later := mocks.New("later")
	h := newHarness(t, &registry.Agent{ID: "slow", Adapter: slow}, &registry.Agent{ID: "later", Adapter: later})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		Budget: 50 * time.Millisecond,
		Phases: []Phase{
			{Name: "first", Agents: refs("slow")},
			{Name: "second", Agents: refs("later")},
			{Name: "third", Agents: refs("later")},
		},
	})
	require.NoError(t, err)

	assert.True(t, report.BudgetExhausted)
	// The running phase drains.
	assert.Equal(t, core.StatusSuccess, report.Run("slow#1").Status)
	for _, r := range report.RunsFor("later") {
		assert.Equal(t, core.StatusSkipped, r.Status)
		assert.Equal(t, ReasonBudgetExhausted, r.SkipReason)
	}
	assert.Len(t, report.RunsFor("later"), 2)
	assert.Empty(t, later.AnalyzeCalls())
	require.Len(t, report.Phases, 3)
	assert.True(t, report.Phases[1].Skipped)
	assert.True(t, report.Phases[2].Skipped)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocker := mocks.New("blocker").Sleeping(10*time.Second, true)
	queued := mocks.New("queued")
	next := mocks.New("next")
	h := newHarness(t,
		&registry.Agent{ID: "blocker", Adapter: blocker, Priority: 1},
		&registry.Agent{ID: "queued", Adapter: queued, Priority: 2},
		&registry.Agent{ID: "next", Adapter: next},
	)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	report, err := h.orch.Run(ctx, writeArtifact(t), &Plan{
		Phases: []Phase{
			{Name: "p1", Agents: refs("blocker", "queued"), Concurrency: 1},
			{Name: "p2", Agents: refs("next")},
		},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, report.Cancelled)
	assert.Equal(t, core.StatusError, report.Run("blocker#1").Status)
	assert.Equal(t, ReasonCancelled, report.Run("blocker#1").ErrorDetail)
	assert.Equal(t, core.StatusSkipped, report.Run("queued#1").Status)
	assert.Equal(t, core.StatusSkipped, report.Run("next#1").Status)
	for _, r := range report.Runs {
		assert.True(t, r.Status.IsTerminal(), r.Key)
	}
}

func TestRun_AllFailIsReportable(t *testing.T) {
	a := mocks.New("a").Failing(errors.NewToolFault("a", errors.FaultNotInstalled, "", nil))
	b := mocks.New("b")
	b.Unavailable = true
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: a}, &registry.Agent{ID: "b", Adapter: b})

	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{Phases: []Phase{{Name: "p", Agents: refs("a", "b")}}})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Findings)
	assert.Equal(t, 1, report.CountByStatus()[core.StatusError])
	assert.Equal(t, 1, report.CountByStatus()[core.StatusSkipped])
}

func TestRun_Preconditions(t *testing.T) {
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: mocks.New("a")})
	artifact := writeArtifact(t)
	plan := &Plan{Phases: []Phase{{Name: "p", Agents: refs("a")}}}

	_, err := h.orch.Run(context.Background(), filepath.Join(t.TempDir(), "missing.sol"), plan)
	require.Error(t, err)
	assert.True(t, errors.IsPreconditionError(err))

	_, err = h.orch.Run(context.Background(), artifact, &Plan{})
	require.Error(t, err)
	assert.True(t, errors.IsPreconditionError(err))

	_, err = h.orch.Run(context.Background(), artifact, &Plan{Phases: []Phase{{Name: "p"}}})
	assert.True(t, errors.IsPreconditionError(err))

	_, err = h.orch.Run(context.Background(), artifact, &Plan{Phases: []Phase{{Name: "p", Agents: refs("ghost")}}})
	assert.True(t, errors.IsPreconditionError(err))

	_, err = h.orch.Run(context.Background(), artifact, nil)
	assert.True(t, errors.IsPreconditionError(err))
}

func TestRun_ConcurrentRunsIsolated(t *testing.T) {
	a := mocks.New("a").WithFindings(reentrancy("a-1", 1))
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: a})
	artifact := writeArtifact(t)

	var wg sync.WaitGroup
	reports := make([]*core.RunReport, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.orch.Run(context.Background(), artifact, &Plan{Phases: []Phase{{Name: "p", Agents: refs("a")}}})
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, r := range reports {
		require.NotNil(t, r)
		assert.Len(t, r.Findings, 1)
		assert.Equal(t, "a-1", r.Findings[0].ID)
		ids[r.RunID] = true
	}
	assert.Len(t, ids, 4)
}

func TestRun_SharedUnnamedPlan(t *testing.T) {
	a := mocks.New("a").WithFindings(reentrancy("a-1", 1))
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: a})
	artifact := writeArtifact(t)
	plan := &Plan{Phases: []Phase{{Agents: refs("a")}, {Agents: refs("a")}}}

	var wg sync.WaitGroup
	reports := make([]*core.RunReport, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.orch.Run(context.Background(), artifact, plan)
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range reports {
		require.NotNil(t, r)
		require.Len(t, r.Phases, 2)
		assert.Equal(t, "phase-1", r.Phases[0].Name)
		assert.Equal(t, "phase-2", r.Phases[1].Name)
	}
	assert.Empty(t, plan.Phases[0].Name)
	assert.Empty(t, plan.Phases[1].Name)
}

func TestRun_RetainRawOutput(t *testing.T) {
	payload := []byte(`{"results":{"detectors":[]}}`)
	a := mocks.New("a")
	a.AnalyzeFn = func(_ context.Context, path string, _ core.Options, _ time.Duration) (*core.RawOutput, error) {
		return &core.RawOutput{Tool: "a", ArtifactPath: path, Stdout: payload}, nil
	}
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Agent{ID: "a", Adapter: a}))
	o, err := New(&Config{Registry: reg, RetainRawOutput: true})
	require.NoError(t, err)

	report, err := o.Run(context.Background(), writeArtifact(t), &Plan{Phases: []Phase{{Name: "p", Agents: refs("a")}}})
	require.NoError(t, err)

	blob := report.Run("a#1").RawOutput
	require.NotNil(t, blob)
	out, err := compress.Default.Unpack(*blob)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestRun_DispatchRate(t *testing.T) {
	h := newHarness(t, &registry.Agent{ID: "a", Adapter: mocks.New("a")})

	start := time.Now()
	report, err := h.orch.Run(context.Background(), writeArtifact(t), &Plan{
		DispatchRate: 10,
		Phases:       []Phase{{Name: "p", Agents: refs("a", "a", "a")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.CountByStatus()[core.StatusSuccess])
	// Burst of one: three starts need at least two intervals of 100ms.
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}
