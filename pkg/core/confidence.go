package core

import (
	"math"
	"strconv"
	"strings"
)

// DefaultConfidence is used when a tool reports no confidence at all.
const DefaultConfidence = 0.5

// ConfidenceFromString normalizes a tool's confidence label to [0,1].
// Accepts ordinals (Slither: High/Medium/Low) and numbers, either in [0,1]
// or as a percentage.
func ConfidenceFromString(s string) float64 {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "certain", "very-high", "critical":
		return 0.95
	case "high", "firm":
		return 0.9
	case "medium", "moderate":
		return 0.6
	case "low", "tentative":
		return 0.3
	case "informational", "info", "none":
		return 0.1
	case "":
		return DefaultConfidence
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return DefaultConfidence
	}
	if v > 1 {
		v /= 100
	}
	return ClampUnit(v)
}

// ClampUnit clamps v to [0,1]; NaN becomes 0.
func ClampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
