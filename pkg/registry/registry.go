// Package registry catalogs the agents available to a run: each agent is
// a tool adapter tagged with a speed class, a priority and a default timeout.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// SpeedClass is a coarse execution-time bucket.
type SpeedClass string

const (
	SpeedFast   SpeedClass = "fast"
	SpeedMedium SpeedClass = "medium"
	SpeedSlow   SpeedClass = "slow"
)

// ParseSpeedClass returns the speed class for s, defaulting to medium.
func ParseSpeedClass(s string) SpeedClass {
	switch SpeedClass(strings.ToLower(strings.TrimSpace(s))) {
	case SpeedFast:
		return SpeedFast
	case SpeedSlow:
		return SpeedSlow
	default:
		return SpeedMedium
	}
}

// DefaultTimeout returns the timeout used for agents that configure none.
func (s SpeedClass) DefaultTimeout() time.Duration {
	switch s {
	case SpeedFast:
		return 2 * time.Minute
	case SpeedSlow:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// Agent is a scheduled unit wrapping one adapter.
type Agent struct {
	ID      string
	Adapter core.Adapter

	Speed SpeedClass

	// Priority orders dispatch within a phase; lower runs first.
	Priority int

	// Timeout is the default per-dispatch timeout.
	Timeout time.Duration

	// Capabilities overrides the adapter's declared capabilities when set.
	Capabilities []string
}

// ToolName returns the adapter name.
func (a *Agent) ToolName() string {
	return a.Adapter.Name()
}

// EffectiveCapabilities returns the override or the adapter's own set.
func (a *Agent) EffectiveCapabilities() []string {
	if len(a.Capabilities) > 0 {
		return a.Capabilities
	}
	return a.Adapter.Capabilities()
}

// EffectiveTimeout returns the agent timeout or the speed-class default.
func (a *Agent) EffectiveTimeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return a.Speed.DefaultTimeout()
}

// =============================================================================
// Registry
// =============================================================================

// Registry manages registered agents. Safe for concurrent use.
type Registry struct {
	agents   map[string]*Agent
	taxonomy *taxonomy.Taxonomy
	mu       sync.RWMutex
}

// New creates an empty registry. A nil taxonomy uses taxonomy.Default().
func New(tx *taxonomy.Taxonomy) *Registry {
	if tx == nil {
		tx = taxonomy.Default()
	}
	return &Registry{
		agents:   make(map[string]*Agent),
		taxonomy: tx,
	}
}

// Taxonomy returns the taxonomy used for capability lookup.
func (r *Registry) Taxonomy() *taxonomy.Taxonomy {
	return r.taxonomy
}

// Register adds an agent. IDs must be unique.
func (r *Registry) Register(a *Agent) error {
	if a == nil || a.Adapter == nil {
		return errors.E(errors.KindInvalidInput, "registry.Register", "agent and adapter are required")
	}
	if a.ID == "" {
		a.ID = a.Adapter.Name()
	}
	if a.Speed == "" {
		a.Speed = SpeedMedium
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; ok {
		return errors.E(errors.KindInvalidInput, "registry.Register",
			fmt.Sprintf("agent %q already registered", a.ID), errors.ErrDuplicateAgent)
	}
	r.agents[a.ID] = a
	return nil
}

// Get returns an agent by ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns all agents ordered by (priority, id).
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	r.mu.RUnlock()

	SortByPriority(out)
	return out
}

// FindByCapability returns agents able to report the category, ordered by
// (priority, id). The category may be a canonical code or an alias.
func (r *Registry) FindByCapability(category string) []*Agent {
	code, err := r.taxonomy.Canonicalize(category)
	if err != nil {
		return nil
	}

	var out []*Agent
	for _, a := range r.List() {
		if r.taxonomy.Covers(a.EffectiveCapabilities(), code) {
			out = append(out, a)
		}
	}
	return out
}

// Probe reports whether the agent's tool is available on this host.
func (r *Registry) Probe(ctx context.Context, id string) (bool, error) {
	a, ok := r.Get(id)
	if !ok {
		return false, errors.E(errors.KindNotFound, "registry.Probe", fmt.Sprintf("agent %q", id))
	}
	return a.Adapter.IsAvailable(ctx), nil
}

// ProbeAll probes every agent concurrently.
func (r *Registry) ProbeAll(ctx context.Context) map[string]bool {
	agents := r.List()
	out := make(map[string]bool, len(agents))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			ok := a.Adapter.IsAvailable(ctx)
			mu.Lock()
			out[a.ID] = ok
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return out
}

// SortByPriority orders agents by (priority, id) in place.
func SortByPriority(agents []*Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].Priority != agents[j].Priority {
			return agents[i].Priority < agents[j].Priority
		}
		return agents[i].ID < agents[j].ID
	})
}
