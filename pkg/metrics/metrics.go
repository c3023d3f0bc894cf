// Package metrics records run, agent, correlation and scoring metrics behind
// a backend-neutral Collector. Labels are passed as name/value pairs.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface for collecting and reporting metrics.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler

	// Reset clears all metrics (for testing)
	Reset()
}

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NopCollector{}
	}
	return c
}

// =============================================================================
// Metric Definitions
// =============================================================================

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"`
}

var (
	// Run metrics
	RunsTotal = MetricDefinition{
		Name:   "solaudit_runs_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of orchestrator runs",
		Labels: []string{"outcome"},
	}
	RunDuration = MetricDefinition{
		Name:    "solaudit_run_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Wall-clock duration of runs",
		Buckets: []float64{1, 10, 30, 60, 300, 600, 1800, 3600},
	}
	PhaseDuration = MetricDefinition{
		Name:    "solaudit_phase_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of each phase from first probe to bus publication",
		Labels:  []string{"phase"},
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
	}

	// Agent metrics
	AgentRunsTotal = MetricDefinition{
		Name:   "solaudit_agent_runs_total",
		Type:   MetricTypeCounter,
		Help:   "Agent runs by terminal status",
		Labels: []string{"agent", "status"},
	}
	AgentDuration = MetricDefinition{
		Name:    "solaudit_agent_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of agent runs",
		Labels:  []string{"agent"},
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
	}
	AgentFindingsTotal = MetricDefinition{
		Name:   "solaudit_agent_findings_total",
		Type:   MetricTypeCounter,
		Help:   "Findings emitted by agents",
		Labels: []string{"agent"},
	}
	AgentsActive = MetricDefinition{
		Name: "solaudit_agents_active",
		Type: MetricTypeGauge,
		Help: "Agents currently executing",
	}

	// Correlation metrics
	ClustersTotal = MetricDefinition{
		Name:   "solaudit_clusters_total",
		Type:   MetricTypeCounter,
		Help:   "Clusters emitted by correlation",
		Labels: []string{"kind"},
	}
	AgreementScore = MetricDefinition{
		Name:    "solaudit_cluster_agreement_score",
		Type:    MetricTypeHistogram,
		Help:    "Agreement score of emitted clusters",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}

	// Scoring metrics
	VerdictsTotal = MetricDefinition{
		Name:   "solaudit_verdicts_total",
		Type:   MetricTypeCounter,
		Help:   "Verdicts by severity and false-positive flag",
		Labels: []string{"severity", "false_positive"},
	}
	ScoringDegradedTotal = MetricDefinition{
		Name: "solaudit_scoring_degraded_total",
		Type: MetricTypeCounter,
		Help: "Clusters scored with missing features or a failed model",
	}
)

// Definitions returns every built-in metric definition.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		RunsTotal, RunDuration, PhaseDuration,
		AgentRunsTotal, AgentDuration, AgentFindingsTotal, AgentsActive,
		ClustersTotal, AgreementScore,
		VerdictsTotal, ScoringDegradedTotal,
	}
}

// =============================================================================
// NopCollector - No-operation implementation
// =============================================================================

// NopCollector discards all metrics.
type NopCollector struct{}

func (NopCollector) CounterInc(name string, labels ...string)                      {}
func (NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (NopCollector) GaugeInc(name string, labels ...string)                        {}
func (NopCollector) GaugeDec(name string, labels ...string)                        {}
func (NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }
func (NopCollector) Reset()                                                        {}

// =============================================================================
// InMemoryCollector - Simple in-memory implementation for testing
// =============================================================================

// InMemoryCollector stores metrics in memory.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	c := &InMemoryCollector{}
	c.Reset()
	return c
}

// key builds "name,k1=v1,k2=v2" with label pairs sorted by name so call
// sites may pass labels in any order.
func (c *InMemoryCollector) key(name string, labels []string) string {
	pairs := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, labels[i]+"="+labels[i+1])
	}
	sort.Strings(pairs)
	if len(pairs) == 0 {
		return name
	}
	return name + "," + strings.Join(pairs, ",")
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]float64, len(c.histograms[c.key(name, labels)]))
	copy(out, c.histograms[c.key(name, labels)])
	return out
}

// =============================================================================
// Timer - Helper for timing operations
// =============================================================================

// Timer records elapsed time to a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer starts a timer for the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: OrNop(collector),
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

var (
	_ Collector = NopCollector{}
	_ Collector = (*InMemoryCollector)(nil)
)
