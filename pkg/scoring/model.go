package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
)

// Features are the inputs of a confidence model for one cluster.
type Features struct {
	Agreement     float64
	MaxConfidence float64
	Size          int
	ToolCount     int

	// Context is nil when no code context covers the cluster's file.
	Context  *FileContext
	Function string
}

// Model turns features into a confidence. Implementations must be
// deterministic, and non-decreasing in Agreement and Size.
type Model interface {
	Version() string
	Score(Features) (float64, []core.Attribution)
}

// =============================================================================
// Weighted sum
// =============================================================================

// WeightedSumModel is a hand-tuned linear model with context adjustments.
type WeightedSumModel struct {
	AgreementWeight  float64 `yaml:"agreement_weight" json:"agreement_weight"`
	ConfidenceWeight float64 `yaml:"confidence_weight" json:"confidence_weight"`
	SizeWeight       float64 `yaml:"size_weight" json:"size_weight"`

	// SizeSaturation is the member count at which the size term maxes out.
	SizeSaturation int `yaml:"size_saturation" json:"size_saturation"`

	TestPenalty       float64 `yaml:"test_penalty" json:"test_penalty"`
	ThirdPartyPenalty float64 `yaml:"third_party_penalty" json:"third_party_penalty"`
	ExternalBonus     float64 `yaml:"external_bonus" json:"external_bonus"`
}

// DefaultWeightedSum returns the default weights.
func DefaultWeightedSum() *WeightedSumModel {
	return &WeightedSumModel{
		AgreementWeight:   0.5,
		ConfidenceWeight:  0.3,
		SizeWeight:        0.2,
		SizeSaturation:    3,
		TestPenalty:       0.15,
		ThirdPartyPenalty: 0.1,
		ExternalBonus:     0.05,
	}
}

func (m *WeightedSumModel) Version() string { return "weighted-sum/v1" }

// Validate rejects negative weights, which would break monotonicity.
func (m *WeightedSumModel) Validate() error {
	for name, w := range map[string]float64{
		"agreement_weight":    m.AgreementWeight,
		"confidence_weight":   m.ConfidenceWeight,
		"size_weight":         m.SizeWeight,
		"test_penalty":        m.TestPenalty,
		"third_party_penalty": m.ThirdPartyPenalty,
		"external_bonus":      m.ExternalBonus,
	} {
		if w < 0 || math.IsNaN(w) {
			return errors.E(errors.KindConfig, "scoring.WeightedSumModel", name+" must be >= 0", errors.ErrInvalidConfig)
		}
	}
	return nil
}

func (m *WeightedSumModel) Score(f Features) (float64, []core.Attribution) {
	size := sizeTerm(f.Size, m.SizeSaturation)
	attrs := []core.Attribution{
		{Feature: "agreement", Value: f.Agreement, Contribution: m.AgreementWeight * f.Agreement},
		{Feature: "max_confidence", Value: f.MaxConfidence, Contribution: m.ConfidenceWeight * f.MaxConfidence},
		{Feature: "size", Value: float64(f.Size), Contribution: m.SizeWeight * size},
	}
	attrs = append(attrs, contextAttributions(f, m.TestPenalty, m.ThirdPartyPenalty, m.ExternalBonus)...)
	return core.ClampUnit(sum(attrs)), attrs
}

// =============================================================================
// Logistic
// =============================================================================

// LogisticModel is a trained linear classifier: sigmoid(bias + w.x).
// Coefficients come from offline calibration against a labelled benchmark.
type LogisticModel struct {
	Name string `yaml:"name" json:"name"`

	Bias           float64 `yaml:"bias" json:"bias"`
	AgreementCoef  float64 `yaml:"agreement" json:"agreement"`
	ConfidenceCoef float64 `yaml:"max_confidence" json:"max_confidence"`
	SizeCoef       float64 `yaml:"size" json:"size"`
	SizeSaturation int     `yaml:"size_saturation" json:"size_saturation"`
	TestCoef       float64 `yaml:"test" json:"test"`
	ThirdPartyCoef float64 `yaml:"third_party" json:"third_party"`
	ExternalCoef   float64 `yaml:"external" json:"external"`
}

func (m *LogisticModel) Version() string {
	if m.Name != "" {
		return "logistic/" + m.Name
	}
	return "logistic/v1"
}

// Validate rejects negative agreement and size coefficients.
func (m *LogisticModel) Validate() error {
	if m.AgreementCoef < 0 || m.SizeCoef < 0 {
		return errors.E(errors.KindConfig, "scoring.LogisticModel", "agreement and size coefficients must be >= 0", errors.ErrInvalidConfig)
	}
	return nil
}

func (m *LogisticModel) Score(f Features) (float64, []core.Attribution) {
	attrs := []core.Attribution{
		{Feature: "bias", Value: 1, Contribution: m.Bias},
		{Feature: "agreement", Value: f.Agreement, Contribution: m.AgreementCoef * f.Agreement},
		{Feature: "max_confidence", Value: f.MaxConfidence, Contribution: m.ConfidenceCoef * f.MaxConfidence},
		{Feature: "size", Value: float64(f.Size), Contribution: m.SizeCoef * sizeTerm(f.Size, m.SizeSaturation)},
	}
	attrs = append(attrs, contextAttributions(f, m.TestCoef, m.ThirdPartyCoef, m.ExternalCoef)...)
	return 1 / (1 + math.Exp(-sum(attrs))), attrs
}

// =============================================================================
// Helpers
// =============================================================================

// ParseModel builds a model by name with default parameters.
func ParseModel(name string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "weighted-sum", "weighted-sum/v1":
		return DefaultWeightedSum(), nil
	case "logistic", "logistic/v1":
		return &LogisticModel{Bias: -2, AgreementCoef: 3, ConfidenceCoef: 1.5, SizeCoef: 1, SizeSaturation: 3, TestCoef: 1, ThirdPartyCoef: 0.5, ExternalCoef: 0.25}, nil
	default:
		return nil, errors.E(errors.KindConfig, "scoring.ParseModel", fmt.Sprintf("unknown model %q", name), errors.ErrInvalidConfig)
	}
}

// sizeTerm maps member count to [0,1], saturating at sat members.
func sizeTerm(size, sat int) float64 {
	if sat < 1 {
		sat = 1
	}
	return float64(min(max(size, 0), sat)) / float64(sat)
}

func contextAttributions(f Features, testPenalty, thirdPartyPenalty, externalBonus float64) []core.Attribution {
	if f.Context == nil {
		return nil
	}
	var out []core.Attribution
	if f.Context.IsTest {
		out = append(out, core.Attribution{Feature: "test_file", Value: 1, Contribution: -testPenalty})
	}
	if f.Context.IsThirdParty {
		out = append(out, core.Attribution{Feature: "third_party", Value: 1, Contribution: -thirdPartyPenalty})
	}
	if f.Function != "" && f.Context.IsExternal(f.Function) {
		out = append(out, core.Attribution{Feature: "externally_callable", Value: 1, Contribution: externalBonus})
	}
	return out
}

func sum(attrs []core.Attribution) float64 {
	total := 0.0
	for _, a := range attrs {
		total += a.Contribution
	}
	return total
}
