// Package bus provides the per-run context bus: the orchestrator publishes
// each phase's findings once the phase drains, and later phases read
// immutable snapshots of everything published so far.
package bus

import (
	"sync"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
)

// OptionKey is the core.Options key under which the orchestrator hands
// agents the snapshot visible at dispatch time.
const OptionKey = "solaudit.context"

// Publication is one phase's contribution to the bus.
type Publication struct {
	Seq      int               `json:"seq"`
	Phase    string            `json:"phase"`
	Findings []core.Finding    `json:"findings"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Snapshot is a read-only view of the bus at one point in time.
// The slices are private copies; mutating them does not affect the bus.
type Snapshot struct {
	Publications []Publication
}

// Findings returns every published finding in publication order.
func (s Snapshot) Findings() []core.Finding {
	var out []core.Finding
	for _, p := range s.Publications {
		out = append(out, p.Findings...)
	}
	return out
}

// Phase returns the publication for a phase, if any.
func (s Snapshot) Phase(name string) (Publication, bool) {
	for _, p := range s.Publications {
		if p.Phase == name {
			return p, true
		}
	}
	return Publication{}, false
}

// Phases returns the published phase names in order.
func (s Snapshot) Phases() []string {
	out := make([]string, len(s.Publications))
	for i, p := range s.Publications {
		out[i] = p.Phase
	}
	return out
}

// Bus is owned by exactly one run. Publish is called only by the
// orchestrator at phase boundaries; any number of readers may snapshot.
type Bus struct {
	mu     sync.RWMutex
	pubs   []Publication
	subs   []chan Publication
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish appends a phase publication and fans it out to subscribers.
// Subscribers that are not keeping up miss the publication rather than
// blocking the phase barrier.
func (b *Bus) Publish(phase string, findings []core.Finding, metadata map[string]string) error {
	p := Publication{
		Phase:    phase,
		Findings: cloneFindings(findings),
		Metadata: cloneMeta(metadata),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.E(errors.KindInternal, "bus.Publish", "bus closed")
	}
	p.Seq = len(b.pubs) + 1
	b.pubs = append(b.pubs, p)

	for _, ch := range b.subs {
		select {
		case ch <- clonePublication(p):
		default:
		}
	}
	return nil
}

// Snapshot returns a copy of everything published so far.
func (b *Bus) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Snapshot{Publications: make([]Publication, len(b.pubs))}
	for i, p := range b.pubs {
		out.Publications[i] = clonePublication(p)
	}
	return out
}

// Len returns the number of publications.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pubs)
}

// Subscribe returns a channel receiving future publications. The channel
// is closed by Close.
func (b *Bus) Subscribe(buffer int) <-chan Publication {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Publication, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Close ends the run's bus and closes all subscriptions. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// WithSnapshot returns a copy of opts carrying the snapshot under OptionKey.
func WithSnapshot(opts core.Options, s Snapshot) core.Options {
	out := opts.Clone()
	out[OptionKey] = s
	return out
}

// SnapshotFromOptions extracts the snapshot an agent was dispatched with.
func SnapshotFromOptions(opts core.Options) (Snapshot, bool) {
	s, ok := opts[OptionKey].(Snapshot)
	return s, ok
}

func clonePublication(p Publication) Publication {
	return Publication{
		Seq:      p.Seq,
		Phase:    p.Phase,
		Findings: cloneFindings(p.Findings),
		Metadata: cloneMeta(p.Metadata),
	}
}

func cloneFindings(in []core.Finding) []core.Finding {
	if in == nil {
		return nil
	}
	out := make([]core.Finding, len(in))
	copy(out, in)
	return out
}

func cloneMeta(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
