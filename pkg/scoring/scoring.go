// Package scoring turns clusters into verdicts: a versioned confidence
// model scores each cluster, clusters under the threshold are flagged as
// false positives, and severity is the highest any member reported.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// Defaults.
const (
	DefaultThreshold       = 0.5
	DefaultDegradedPenalty = 0.1
)

// Missing feature names reported in ScoringDegradation.
const (
	FeatureCodeContext    = "code_context"
	FeatureToolConfidence = "tool_confidence"
)

// Config configures a Pipeline.
type Config struct {
	// Threshold is the confidence below which a verdict is a false positive.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Model defaults to DefaultWeightedSum().
	Model Model `yaml:"-" json:"-"`

	// DegradedPenalty is subtracted when features are missing.
	DegradedPenalty float64 `yaml:"degraded_penalty" json:"degraded_penalty"`

	// FallbackConfidence is used when the model itself fails.
	FallbackConfidence float64 `yaml:"fallback_confidence" json:"fallback_confidence"`

	// EscalateAgreement, when > 0, raises severity one level for clusters
	// corroborated by two or more tools at or above this agreement.
	EscalateAgreement float64 `yaml:"escalate_agreement" json:"escalate_agreement"`

	Logger  core.Logger       `yaml:"-" json:"-"`
	Metrics metrics.Collector `yaml:"-" json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		DegradedPenalty: DefaultDegradedPenalty,
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	const op = "scoring.Config"
	for name, v := range map[string]float64{
		"threshold":           c.Threshold,
		"degraded_penalty":    c.DegradedPenalty,
		"fallback_confidence": c.FallbackConfidence,
		"escalate_agreement":  c.EscalateAgreement,
	} {
		if v < 0 || v > 1 {
			return errors.E(errors.KindConfig, op, fmt.Sprintf("%s must be in [0,1], got %v", name, v), errors.ErrInvalidConfig)
		}
	}
	if v, ok := c.Model.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// Pipeline scores clusters. It holds only configuration.
type Pipeline struct {
	cfg     Config
	model   Model
	logger  core.Logger
	metrics metrics.Collector
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		model:   cfg.Model,
		logger:  core.LoggerOrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
	if p.model == nil {
		p.model = DefaultWeightedSum()
	}
	return p, nil
}

// ModelVersion returns the version of the configured model.
func (p *Pipeline) ModelVersion() string {
	return p.model.Version()
}

// Score produces one verdict per cluster, sorted by severity, then
// confidence, then cluster creation order. A nil context is allowed;
// every cluster is then scored as degraded.
func (p *Pipeline) Score(clusters []core.Cluster, cc *CodeContext) []core.Verdict {
	out := make([]core.Verdict, 0, len(clusters))
	for _, c := range clusters {
		v := p.ScoreCluster(c, cc)
		p.metrics.CounterInc(metrics.VerdictsTotal.Name,
			"severity", string(v.FinalSeverity), "false_positive", strconv.FormatBool(v.IsFalsePositive))
		out = append(out, v)
	}
	SortVerdicts(out)
	return out
}

// ScoreCluster scores a single cluster. It never panics.
func (p *Pipeline) ScoreCluster(c core.Cluster, cc *CodeContext) (v core.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = p.fallback(c, fmt.Errorf("panic: %v", r))
		}
	}()

	f, missing := extract(c, cc)
	conf, attrs, err := p.runModel(f)
	if err != nil {
		return p.fallback(c, err)
	}

	exp := core.Explanation{Attributions: attrs}
	if len(missing) > 0 {
		deg := &errors.ScoringDegradation{ClusterID: c.ID, Missing: missing}
		p.logger.Warn("[scoring] %v", deg)
		p.metrics.CounterInc(metrics.ScoringDegradedTotal.Name)
		conf -= p.cfg.DegradedPenalty
		exp.Degraded = true
		exp.Notes = append(exp.Notes, deg.Error())
	}
	conf = core.ClampUnit(conf)

	sev := c.MaxSeverity()
	if p.escalates(c) {
		sev = sev.Raise()
		exp.Notes = append(exp.Notes, fmt.Sprintf("severity raised to %s: %d tools agree", sev, len(c.ContributingTools)))
	}
	if c.Unmapped {
		exp.Notes = append(exp.Notes, fmt.Sprintf("category %q has no taxonomy mapping", c.CanonicalCategory))
	}

	v = p.verdict(c, sev, conf, exp)
	v.Explanation.Summary = p.summary(c, v)
	return v
}

func (p *Pipeline) runModel(f Features) (conf float64, attrs []core.Attribution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model %s panic: %v", p.model.Version(), r)
		}
	}()
	conf, attrs = p.model.Score(f)
	if math.IsNaN(conf) {
		return 0, nil, fmt.Errorf("model %s returned NaN", p.model.Version())
	}
	return conf, attrs, nil
}

// fallback builds the verdict for a cluster whose scoring failed.
func (p *Pipeline) fallback(c core.Cluster, cause error) core.Verdict {
	deg := &errors.ScoringDegradation{ClusterID: c.ID, Err: cause}
	p.logger.Warn("[scoring] %v", deg)
	p.metrics.CounterInc(metrics.ScoringDegradedTotal.Name)

	exp := core.Explanation{Degraded: true, Notes: []string{deg.Error()}}
	v := p.verdict(c, c.MaxSeverity(), core.ClampUnit(p.cfg.FallbackConfidence), exp)
	v.Explanation.Summary = p.summary(c, v)
	return v
}

func (p *Pipeline) verdict(c core.Cluster, sev severity.Level, conf float64, exp core.Explanation) core.Verdict {
	return core.Verdict{
		ClusterID:       c.ID,
		Category:        c.CanonicalCategory,
		Location:        c.CanonicalLocation,
		FinalSeverity:   sev,
		FinalConfidence: conf,
		IsFalsePositive: conf < p.cfg.Threshold,
		Explanation:     exp,
		ModelVersion:    p.model.Version(),
		Order:           c.Order,
	}
}

func (p *Pipeline) escalates(c core.Cluster) bool {
	return p.cfg.EscalateAgreement > 0 &&
		len(c.ContributingTools) >= 2 &&
		c.AgreementScore >= p.cfg.EscalateAgreement
}

func (p *Pipeline) summary(c core.Cluster, v core.Verdict) string {
	cmp := ">="
	if v.IsFalsePositive {
		cmp = "<"
	}
	return fmt.Sprintf("%d finding(s) from %s; agreement %.2f; confidence %.2f %s threshold %.2f",
		len(c.Members), strings.Join(c.ContributingTools, ", "), c.AgreementScore,
		v.FinalConfidence, cmp, p.cfg.Threshold)
}

// extract builds model features and lists the ones that are missing.
func extract(c core.Cluster, cc *CodeContext) (Features, []string) {
	f := Features{
		Agreement:     core.ClampUnit(c.AgreementScore),
		MaxConfidence: core.ClampUnit(c.MaxConfidence()),
		Size:          len(c.Members),
		ToolCount:     len(c.ContributingTools),
		Function:      c.CanonicalLocation.Function,
	}
	if f.Function == "" && len(c.Members) > 0 {
		f.Function = c.Primary().Location.Function
	}

	var missing []string
	if fc, ok := cc.Lookup(c.CanonicalLocation.File); ok {
		f.Context = &fc
	} else {
		missing = append(missing, FeatureCodeContext)
	}
	if f.MaxConfidence == 0 {
		missing = append(missing, FeatureToolConfidence)
	}
	return f, missing
}

// SortVerdicts orders verdicts by severity desc, confidence desc, then
// cluster creation order.
func SortVerdicts(vs []core.Verdict) {
	sort.SliceStable(vs, func(i, j int) bool {
		if c := severity.Compare(vs[i].FinalSeverity, vs[j].FinalSeverity); c != 0 {
			return c > 0
		}
		if vs[i].FinalConfidence != vs[j].FinalConfidence {
			return vs[i].FinalConfidence > vs[j].FinalConfidence
		}
		return vs[i].Order < vs[j].Order
	})
}
