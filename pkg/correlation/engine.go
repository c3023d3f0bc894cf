// Package correlation collapses findings from many tools into clusters
// that describe one underlying issue, and scores how strongly the tools
// able to detect that issue agree on it.
//
// Findings are canonicalized, bucketed by (category, file) and merged
// inside each bucket when their spans overlap or lie within the tolerance.
// Merges are closed transitively with union-find. Contract-level findings
// (no line) merge only with each other.
package correlation

import (
	"sort"
	"strconv"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/shared/fingerprint"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// Engine correlates findings. It holds only configuration, so one Engine
// may serve concurrent runs.
type Engine struct {
	cfg     Config
	tx      *taxonomy.Taxonomy
	logger  core.Logger
	metrics metrics.Collector
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		tx:      cfg.Taxonomy,
		logger:  core.LoggerOrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
	if e.tx == nil {
		e.tx = taxonomy.Default()
	}
	return e, nil
}

// Reliability returns the prior for a tool.
func (e *Engine) Reliability(tool string) float64 {
	if r, ok := e.cfg.Reliability[tool]; ok {
		return r
	}
	return e.cfg.DefaultReliability
}

// EligibleTools returns the configured tools able to report a canonical
// category, sorted.
func (e *Engine) EligibleTools(category string) []string {
	return e.eligible(e.cfg.Tools, category)
}

func (e *Engine) eligible(tools []ToolProfile, category string) []string {
	var out []string
	for _, p := range tools {
		if e.tx.Covers(p.Capabilities, category) {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return dedupSorted(out)
}

type item struct {
	idx  int
	f    core.Finding
	code string
}

// Correlate groups findings into clusters, scoring agreement against the
// configured tool profiles. The result depends only on the input order
// and the configuration.
func (e *Engine) Correlate(findings []core.Finding) []core.Cluster {
	return e.CorrelateWith(findings, e.cfg.Tools)
}

// CorrelateWith is Correlate with the tools that actually looked at the
// artifact, typically ProfilesForRun of a finished run.
func (e *Engine) CorrelateWith(findings []core.Finding, tools []ToolProfile) []core.Cluster {
	items := make([]item, 0, len(findings))
	var unmapped []item
	for i, f := range findings {
		code, err := e.tx.Canonicalize(f.Category)
		if err != nil {
			e.logger.Debug("[correlation] %s: %v", fingerprint.Short(f.ID), err)
			unmapped = append(unmapped, item{idx: i, f: f, code: f.Category})
			continue
		}
		items = append(items, item{idx: i, f: f, code: code})
	}

	uf := newUnionFind(len(items))
	for _, bucket := range e.buckets(items) {
		e.mergeBucket(uf, items, bucket)
	}

	groups := make(map[int][]item)
	var roots []int
	for pos, it := range items {
		root := uf.find(pos)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], it)
	}

	clusters := make([]core.Cluster, 0, len(roots)+len(unmapped))
	first := make([]int, 0, cap(clusters))
	for _, root := range roots {
		members := groups[root]
		clusters = append(clusters, e.build(members, tools, false))
		first = append(first, members[0].idx)
	}
	for _, it := range unmapped {
		clusters = append(clusters, e.build([]item{it}, nil, true))
		first = append(first, it.idx)
	}

	order := make([]int, len(clusters))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return first[order[a]] < first[order[b]] })

	out := make([]core.Cluster, len(clusters))
	for pos, i := range order {
		c := clusters[i]
		c.Order = pos
		out[pos] = c
		e.observe(c)
	}
	return out
}

// buckets groups item positions by (category, file, has-lines).
func (e *Engine) buckets(items []item) [][]int {
	index := make(map[string]int)
	var out [][]int
	for pos, it := range items {
		key := it.code + "\x00" + fingerprint.NormalizePath(it.f.Location.File) + "\x00" + strconv.FormatBool(it.f.Location.HasLines())
		b, ok := index[key]
		if !ok {
			b = len(out)
			index[key] = b
			out = append(out, nil)
		}
		out[b] = append(out[b], pos)
	}
	return out
}

// mergeBucket unions every mergeable pair in one bucket. Line-level items
// are swept in start order against a window of items whose end is within
// the tolerance; same-function items are joined through a function index.
func (e *Engine) mergeBucket(uf *unionFind, items []item, bucket []int) {
	if len(bucket) < 2 {
		return
	}
	if !items[bucket[0]].f.Location.HasLines() {
		for _, pos := range bucket[1:] {
			uf.union(bucket[0], pos)
		}
		return
	}

	sorted := append([]int(nil), bucket...)
	sort.SliceStable(sorted, func(a, b int) bool {
		sa, ea := items[sorted[a]].f.Location.Span()
		sb, eb := items[sorted[b]].f.Location.Span()
		if sa != sb {
			return sa < sb
		}
		return ea < eb
	})

	tol := e.cfg.ToleranceLines
	byFunc := make(map[string]int)
	var window []int
	for _, pos := range sorted {
		loc := items[pos].f.Location
		start, _ := loc.Span()

		kept := window[:0]
		for _, w := range window {
			if _, end := items[w].f.Location.Span(); start-end <= tol {
				kept = append(kept, w)
			}
		}
		window = kept

		for _, w := range window {
			if e.mergeable(items[w].f.Location, loc) {
				uf.union(w, pos)
			}
		}
		window = append(window, pos)

		if e.cfg.UseFunctionBoundaries && qualified(loc) {
			key := loc.Contract + "." + loc.Function
			if prev, ok := byFunc[key]; ok {
				uf.union(prev, pos)
			} else {
				byFunc[key] = pos
			}
		}
	}
}

// mergeable is the pairwise merge test for two line-level locations in
// the same bucket. Function names decide only when both sides also name
// the contract; one file may declare "withdraw" in several contracts.
func (e *Engine) mergeable(a, b core.Location) bool {
	gap := a.Gap(b)
	if e.cfg.UseFunctionBoundaries && qualified(a) && qualified(b) {
		return a.SameFunction(b) || gap == 0
	}
	return gap <= e.cfg.ToleranceLines
}

func qualified(l core.Location) bool {
	return l.Contract != "" && l.Function != ""
}

func (e *Engine) build(members []item, profiles []ToolProfile, unmapped bool) core.Cluster {
	findings := make([]core.Finding, len(members))
	for i, it := range members {
		findings[i] = it.f
	}
	sort.SliceStable(findings, func(a, b int) bool {
		ra, rb := e.Reliability(findings[a].ToolName), e.Reliability(findings[b].ToolName)
		if ra != rb {
			return ra > rb
		}
		if findings[a].ToolName != findings[b].ToolName {
			return findings[a].ToolName < findings[b].ToolName
		}
		return findings[a].ID < findings[b].ID
	})

	loc := findings[0].Location
	ids := make([]string, len(findings))
	tools := make([]string, 0, len(findings))
	for i, f := range findings {
		if i > 0 {
			loc = loc.Union(f.Location)
		}
		ids[i] = f.ID
		tools = append(tools, f.ToolName)
	}
	sort.Strings(tools)
	tools = dedupSorted(tools)

	c := core.Cluster{
		Members:           findings,
		CanonicalCategory: members[0].code,
		CanonicalLocation: loc,
		ContributingTools: tools,
		Unmapped:          unmapped,
	}
	if !unmapped {
		c.EligibleTools = e.eligibleWith(profiles, c.CanonicalCategory, tools)
		c.AgreementScore = e.agreement(tools, c.EligibleTools)
	}
	c.ID = fingerprint.GenerateCluster(c.CanonicalCategory, loc.File, loc.StartLine, loc.EndLine, ids)
	return c
}

// eligibleWith returns the profiled tools for category plus the
// contributing tools, which demonstrably looked for it.
func (e *Engine) eligibleWith(profiles []ToolProfile, category string, contributing []string) []string {
	out := append(e.eligible(profiles, category), contributing...)
	sort.Strings(out)
	return dedupSorted(out)
}

// agreement is the reliability-weighted share of eligible tools that
// contributed. Zero eligible weight yields 0.
func (e *Engine) agreement(contributing, eligible []string) float64 {
	var num, den float64
	for _, t := range contributing {
		num += e.Reliability(t)
	}
	for _, t := range eligible {
		den += e.Reliability(t)
	}
	if den <= 0 {
		return 0
	}
	return core.ClampUnit(num / den)
}

func (e *Engine) observe(c core.Cluster) {
	kind := "singleton"
	switch {
	case c.Unmapped:
		kind = "unmapped"
	case len(c.Members) > 1:
		kind = "merged"
	}
	e.metrics.CounterInc(metrics.ClustersTotal.Name, "kind", kind)
	if !c.Unmapped {
		e.metrics.HistogramObserve(metrics.AgreementScore.Name, c.AgreementScore)
	}
}

func dedupSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
