// Package severity defines the canonical severity ordering used to rank
// smart-contract findings: critical > high > medium > low > info.
package severity

import "strings"

// Level represents a severity level for security findings.
type Level string

const (
	// Critical - Direct loss of funds or contract takeover.
	Critical Level = "critical"

	// High - Exploitable under realistic conditions.
	High Level = "high"

	// Medium - Exploitable under specific conditions or with limited impact.
	Medium Level = "medium"

	// Low - Best-practice deviation with minor impact.
	Low Level = "low"

	// Info - Informational or gas/optimization note.
	Info Level = "info"

	// Unknown - Severity could not be determined. Ranks below Info.
	Unknown Level = "unknown"
)

// AllLevels returns all severity levels in order of priority (highest first).
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low, Info, Unknown}
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric priority of the severity level.
// Higher numbers = higher priority.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast returns true if this severity is at least as high as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// Raise returns the next level up, saturating at Critical.
// Unknown is raised to Info.
func (l Level) Raise() Level {
	switch l {
	case Critical, High:
		return Critical
	case Medium:
		return High
	case Low:
		return Medium
	default:
		if l == Info {
			return Low
		}
		return Info
	}
}

// FromString normalizes the severity labels emitted by Solidity analyzers.
// Handles:
//   - Slither impact: High, Medium, Low, Informational, Optimization
//   - Mythril severity: High, Medium, Low
//   - Aderyn: high, low, nc
//   - SARIF level: error, warning, note, none
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return Critical
	case "HIGH", "ERROR", "SEVERE":
		return High
	case "MEDIUM", "MODERATE", "WARNING", "WARN", "MED":
		return Medium
	case "LOW":
		return Low
	case "INFO", "INFORMATIONAL", "NOTE", "NONE", "OPTIMIZATION", "NC", "GAS":
		return Info
	default:
		return Unknown
	}
}

// Compare returns:
//
//	-1 if a < b (a is lower severity)
//	 0 if a == b
//	+1 if a > b (a is higher severity)
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Max returns the higher severity of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// MaxOf returns the highest of the given levels, or Unknown for none.
func MaxOf(levels ...Level) Level {
	out := Unknown
	for _, l := range levels {
		out = Max(out, l)
	}
	return out
}

// CountBySeverity counts verdicts by severity level.
type CountBySeverity struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Increment increases the count for the given severity.
func (c *CountBySeverity) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	case Info:
		c.Info++
	default:
		c.Unknown++
	}
}

// HighestSeverity returns the highest severity level that has a non-zero count.
func (c *CountBySeverity) HighestSeverity() Level {
	for _, l := range AllLevels() {
		if c.count(l) > 0 {
			return l
		}
	}
	return Unknown
}

func (c *CountBySeverity) count(l Level) int {
	switch l {
	case Critical:
		return c.Critical
	case High:
		return c.High
	case Medium:
		return c.Medium
	case Low:
		return c.Low
	case Info:
		return c.Info
	default:
		return c.Unknown
	}
}
