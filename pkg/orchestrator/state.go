package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exploopio/solaudit/pkg/bus"
	"github.com/exploopio/solaudit/pkg/core"
)

// RunState is owned by exactly one run. Agent goroutines touch it only
// through its methods.
type RunState struct {
	mu sync.Mutex

	id       string
	artifact string
	started  time.Time
	deadline time.Time

	phase    string
	phases   []core.PhaseReport
	runs     []*core.AgentRun
	findings []core.Finding
	seenIDs  map[string]struct{}
	listings map[string]int

	bus *bus.Bus

	budgetExhausted bool
	cancelled       bool
}

func newRunState(artifact string, budget time.Duration, now time.Time) *RunState {
	s := &RunState{
		id:       uuid.NewString(),
		artifact: artifact,
		started:  now,
		seenIDs:  make(map[string]struct{}),
		bus:      bus.New(),
	}
	if budget > 0 {
		s.deadline = now.Add(budget)
	}
	return s
}

// ID returns the run ID.
func (s *RunState) ID() string { return s.id }

// Bus returns the run's context bus.
func (s *RunState) Bus() *bus.Bus { return s.bus }

// Phase returns the phase currently executing.
func (s *RunState) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Elapsed returns the time since the run started.
func (s *RunState) Elapsed() time.Duration {
	return time.Since(s.started)
}

func (s *RunState) budgetExpired(now time.Time) bool {
	return !s.deadline.IsZero() && !now.Before(s.deadline)
}

func (s *RunState) enterPhase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = name
}

// apply runs a state transition on an AgentRun under the run lock.
func (s *RunState) apply(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// claimIDs makes finding IDs unique within the run. Missing IDs and IDs
// colliding with an earlier finding are replaced with fresh UUIDs.
func (s *RunState) claimIDs(findings []core.Finding) []core.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Finding, len(findings))
	for i, f := range findings {
		if _, dup := s.seenIDs[f.ID]; dup || f.ID == "" {
			f.ID = uuid.NewString()
		}
		s.seenIDs[f.ID] = struct{}{}
		out[i] = f
	}
	return out
}

// appendFindings adds a drained phase's findings to the run set.
func (s *RunState) appendFindings(findings []core.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, findings...)
}

func (s *RunState) addPhase(p core.PhaseReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p)
}

func (s *RunState) markBudgetExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgetExhausted = true
}

func (s *RunState) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// report builds the RunReport. Call after every agent is terminal.
func (s *RunState) report() *core.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &core.RunReport{
		RunID:           s.id,
		Artifact:        s.artifact,
		StartedAt:       s.started,
		Duration:        time.Since(s.started),
		Phases:          append([]core.PhaseReport(nil), s.phases...),
		Runs:            append([]*core.AgentRun(nil), s.runs...),
		Findings:        append([]core.Finding(nil), s.findings...),
		BudgetExhausted: s.budgetExhausted,
		Cancelled:       s.cancelled,
	}
	return r
}

// newRun registers a PENDING AgentRun keyed "<agentID>#<n>" where n counts
// the agent's listings across the run.
func (s *RunState) newRun(agentID, tool, phase string) *core.AgentRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listings == nil {
		s.listings = make(map[string]int)
	}
	s.listings[agentID]++
	r := core.NewAgentRun(fmt.Sprintf("%s#%d", agentID, s.listings[agentID]), agentID, tool, phase)
	s.runs = append(s.runs, r)
	return r
}
