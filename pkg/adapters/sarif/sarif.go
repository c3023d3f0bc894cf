// Package sarif parses SARIF 2.1.0 output from aderyn, solhint and semgrep
// into findings.
package sarif

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// Format is the RawOutput.Format value for this dialect.
const Format = "sarif"

var swcTag = regexp.MustCompile(`(?i)\bSWC[-_ ]?(\d{3})\b`)

// Parse converts a SARIF document into findings.
func Parse(raw *core.RawOutput) ([]core.Finding, error) {
	if len(strings.TrimSpace(string(raw.Stdout))) == 0 {
		return nil, nil
	}

	var report Report
	if err := json.Unmarshal(raw.Stdout, &report); err != nil {
		return nil, fmt.Errorf("parse SARIF: %w", err)
	}
	if report.Version == "" && len(report.Runs) == 0 {
		return nil, fmt.Errorf("parse SARIF: not a SARIF document")
	}

	var findings []core.Finding
	for _, run := range report.Runs {
		if raw.ToolVersion == "" && run.Tool.Driver.Version != "" {
			raw.ToolVersion = run.Tool.Driver.Version
		}

		ruleIndex := make(map[string]*Rule, len(run.Tool.Driver.Rules))
		for i := range run.Tool.Driver.Rules {
			rule := &run.Tool.Driver.Rules[i]
			ruleIndex[rule.ID] = rule
		}

		for _, result := range run.Results {
			if result.Kind != "" && result.Kind != "fail" {
				continue
			}
			findings = append(findings, convertResult(result, ruleIndex))
		}
	}
	return findings, nil
}

func convertResult(result Result, ruleIndex map[string]*Rule) core.Finding {
	rule := ruleIndex[result.RuleID]

	f := core.Finding{
		Category:    categoryOf(result.RuleID, rule),
		Detector:    result.RuleID,
		SeverityRaw: levelOf(result, rule),
		Description: result.Message.Text,
	}

	if rule != nil {
		f.ConfidenceRaw = core.ConfidenceFromString(rule.Properties.Precision)
		f.Recommendation = rule.Help.Text
		if f.Description == "" {
			f.Description = rule.FullDescription.Text
		}
	}

	if len(result.Locations) > 0 {
		loc := result.Locations[0]
		region := loc.PhysicalLocation.Region
		f.Location = core.Location{
			File:      cleanURI(loc.PhysicalLocation.ArtifactLocation.URI),
			StartLine: region.StartLine,
			EndLine:   region.EndLine,
		}
		for _, ll := range loc.LogicalLocations {
			switch ll.Kind {
			case "function", "member":
				if f.Location.Function == "" {
					f.Location.Function = ll.Name
					if owner, _, ok := strings.Cut(ll.FullyQualifiedName, "."); ok && f.Location.Contract == "" {
						f.Location.Contract = owner
					}
				}
			case "type", "contract":
				if f.Location.Contract == "" {
					f.Location.Contract = ll.Name
				}
			}
		}
	}
	return f
}

// categoryOf prefers an SWC tag on the rule, then the last segment of a
// dotted rule ID (semgrep: "solidity.security.reentrancy" -> "reentrancy").
func categoryOf(ruleID string, rule *Rule) string {
	if rule != nil {
		for _, tag := range rule.Properties.Tags {
			if m := swcTag.FindStringSubmatch(tag); m != nil {
				return "SWC-" + m[1]
			}
		}
	}
	if m := swcTag.FindStringSubmatch(ruleID); m != nil {
		return "SWC-" + m[1]
	}
	if i := strings.LastIndex(ruleID, "."); i >= 0 {
		return ruleID[i+1:]
	}
	return ruleID
}

// levelOf prefers a numeric security-severity, then the result level,
// then the rule default level. SARIF's implicit default is "warning".
func levelOf(result Result, rule *Rule) severity.Level {
	if rule != nil && rule.Properties.SecuritySeverity != "" {
		var score float64
		if _, err := fmt.Sscan(rule.Properties.SecuritySeverity, &score); err == nil {
			switch {
			case score >= 9:
				return severity.Critical
			case score >= 7:
				return severity.High
			case score >= 4:
				return severity.Medium
			case score > 0:
				return severity.Low
			}
		}
	}
	level := result.Level
	if level == "" && rule != nil {
		level = rule.DefaultConfiguration.Level
	}
	if level == "" {
		level = "warning"
	}
	return severity.FromString(level)
}

func cleanURI(uri string) string {
	uri = strings.TrimPrefix(uri, "file://")
	if u, err := url.PathUnescape(uri); err == nil {
		uri = u
	}
	return strings.TrimPrefix(uri, "./")
}

// =============================================================================
// SARIF Types
// =============================================================================

// Report is the root SARIF document.
type Report struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run represents a single run of a tool.
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool describes the tool that produced the results.
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver describes the tool driver.
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Rule describes a detection rule.
type Rule struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	ShortDescription     Message        `json:"shortDescription"`
	FullDescription      Message        `json:"fullDescription"`
	Help                 Message        `json:"help"`
	DefaultConfiguration RuleConfig     `json:"defaultConfiguration"`
	Properties           RuleProperties `json:"properties"`
}

// RuleConfig is a rule's default configuration.
type RuleConfig struct {
	Level string `json:"level"`
}

// RuleProperties contains the rule property bag fields we read.
type RuleProperties struct {
	Tags             []string `json:"tags"`
	Precision        string   `json:"precision"`
	SecuritySeverity string   `json:"security-severity"`
}

// Message is a SARIF message.
type Message struct {
	Text string `json:"text"`
}

// Result is a single finding.
type Result struct {
	RuleID    string     `json:"ruleId"`
	Level     string     `json:"level"`
	Kind      string     `json:"kind,omitempty"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations"`
}

// Location is a location in a result.
type Location struct {
	PhysicalLocation PhysicalLocation  `json:"physicalLocation"`
	LogicalLocations []LogicalLocation `json:"logicalLocations,omitempty"`
}

// PhysicalLocation is a physical file location.
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region"`
}

// ArtifactLocation is an artifact location.
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region is a region within a file.
type Region struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

// LogicalLocation names a code construct such as a function.
type LogicalLocation struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
	Kind               string `json:"kind"`
}
