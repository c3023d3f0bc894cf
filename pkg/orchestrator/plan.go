package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/registry"
)

// DefaultAgentTimeout applies when neither the plan nor the registry
// sets a timeout for an agent.
const DefaultAgentTimeout = 10 * time.Minute

// AgentRef lists one agent in a phase. Listing the same agent twice
// dispatches it twice.
type AgentRef struct {
	ID string `yaml:"id" json:"id"`

	// Timeout overrides the registry timeout for this listing.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// Options are passed to the adapter's Analyze call.
	Options core.Options `yaml:"options" json:"options,omitempty"`
}

// Phase is an ordered stage whose agents may run concurrently.
type Phase struct {
	Name string `yaml:"name" json:"name"`

	// Category records the capability the phase was built from, if any.
	Category string `yaml:"category" json:"category,omitempty"`

	Agents []AgentRef `yaml:"agents" json:"agents"`

	// Concurrency bounds the phase worker pool. Zero means one worker
	// per listed agent.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// workers returns the effective pool size.
func (p *Phase) workers() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return max(1, len(p.Agents))
}

// Plan is the ordered list of phases for a run.
type Plan struct {
	Phases []Phase `yaml:"phases" json:"phases"`

	// Budget is the overall wall-clock budget. Zero means unlimited.
	Budget time.Duration `yaml:"budget" json:"budget,omitempty"`

	// DispatchRate limits agent starts per second across the run.
	// Zero means unlimited.
	DispatchRate float64 `yaml:"dispatch_rate" json:"dispatch_rate,omitempty"`
}

// label returns the phase name, or "phase-N" for the i-th unnamed phase.
func (p *Phase) label(i int) string {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Sprintf("phase-%d", i+1)
	}
	return p.Name
}

// named returns a copy of the plan with every phase named. The caller's
// plan is never modified, so one plan may serve concurrent runs.
func (p *Plan) named() *Plan {
	out := *p
	out.Phases = make([]Phase, len(p.Phases))
	for i, ph := range p.Phases {
		ph.Name = ph.label(i)
		out.Phases[i] = ph
	}
	return &out
}

// Validate checks the plan against a registry without modifying it.
// All failures are precondition errors.
func (p *Plan) Validate(reg *registry.Registry) error {
	const op = "orchestrator.Plan.Validate"

	if p == nil || len(p.Phases) == 0 {
		return errors.E(errors.KindPrecondition, op, "no phases", errors.ErrEmptyPlan)
	}

	total := 0
	seen := make(map[string]bool, len(p.Phases))
	for i := range p.Phases {
		ph := &p.Phases[i]
		name := ph.label(i)
		if seen[name] {
			return errors.E(errors.KindPrecondition, op, fmt.Sprintf("duplicate phase %q", name))
		}
		seen[name] = true

		if ph.Concurrency < 0 {
			return errors.E(errors.KindPrecondition, op, fmt.Sprintf("phase %q: concurrency must be >= 0", name))
		}
		for _, ref := range ph.Agents {
			if _, ok := reg.Get(ref.ID); !ok {
				return errors.E(errors.KindPrecondition, op,
					fmt.Sprintf("phase %q: agent %q", name, ref.ID), errors.ErrUnknownAgent)
			}
			if ref.Timeout < 0 {
				return errors.E(errors.KindPrecondition, op,
					fmt.Sprintf("phase %q: agent %q: negative timeout", name, ref.ID))
			}
		}
		total += len(ph.Agents)
	}

	if total == 0 {
		return errors.E(errors.KindPrecondition, op, "no agents in any phase", errors.ErrEmptyPlan)
	}
	if p.Budget < 0 || p.DispatchRate < 0 {
		return errors.E(errors.KindPrecondition, op, "budget and dispatch rate must be >= 0")
	}
	return nil
}

// PhaseForCapability builds a phase from every registered agent able to
// report category, in priority order.
func PhaseForCapability(reg *registry.Registry, name, category string, concurrency int) (Phase, error) {
	agents := reg.FindByCapability(category)
	if len(agents) == 0 {
		return Phase{}, errors.E(errors.KindNotFound, "orchestrator.PhaseForCapability",
			fmt.Sprintf("no agent covers %q", category))
	}
	ph := Phase{Name: name, Category: category, Concurrency: concurrency}
	for _, a := range agents {
		ph.Agents = append(ph.Agents, AgentRef{ID: a.ID})
	}
	return ph, nil
}

// timeoutFor resolves the per-dispatch timeout.
func timeoutFor(ref AgentRef, agent *registry.Agent) time.Duration {
	if ref.Timeout > 0 {
		return ref.Timeout
	}
	if t := agent.EffectiveTimeout(); t > 0 {
		return t
	}
	return DefaultAgentTimeout
}
