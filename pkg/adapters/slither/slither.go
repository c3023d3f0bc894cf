// Package slither parses `slither --json -` output.
package slither

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// Format is the RawOutput.Format value for this dialect.
const Format = "slither-json"

const wikiURL = "https://github.com/crytic/slither/wiki/Detector-Documentation#"

// Output is the top-level slither JSON document.
type Output struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Results struct {
		Detectors []Detector `json:"detectors"`
	} `json:"results"`
}

// Detector is one detector result.
type Detector struct {
	Check       string    `json:"check"`
	Impact      string    `json:"impact"`
	Confidence  string    `json:"confidence"`
	Description string    `json:"description"`
	ID          string    `json:"id"`
	Elements    []Element `json:"elements"`
}

// Element is a source element a detector points at.
type Element struct {
	Type          string        `json:"type"`
	Name          string        `json:"name"`
	SourceMapping SourceMapping `json:"source_mapping"`
	TypeSpecific  struct {
		Parent *Element `json:"parent"`
	} `json:"type_specific_fields"`
}

// SourceMapping locates an element in source.
type SourceMapping struct {
	FilenameRelative string `json:"filename_relative"`
	FilenameShort    string `json:"filename_short"`
	Lines            []int  `json:"lines"`
}

// Parse converts slither JSON into findings.
func Parse(raw *core.RawOutput) ([]core.Finding, error) {
	var out Output
	if err := json.Unmarshal(raw.Stdout, &out); err != nil {
		return nil, fmt.Errorf("parse slither JSON: %w", err)
	}
	if !out.Success {
		msg := "unknown error"
		if out.Error != nil {
			msg = *out.Error
		}
		return nil, fmt.Errorf("slither reported failure: %s", msg)
	}

	findings := make([]core.Finding, 0, len(out.Results.Detectors))
	for _, d := range out.Results.Detectors {
		findings = append(findings, convert(d))
	}
	return findings, nil
}

func convert(d Detector) core.Finding {
	f := core.Finding{
		Category:       d.Check,
		Detector:       d.Check,
		SeverityRaw:    severity.FromString(d.Impact),
		ConfidenceRaw:  core.ConfidenceFromString(d.Confidence),
		Description:    strings.TrimSpace(d.Description),
		Recommendation: wikiURL + d.Check,
	}
	if len(d.Elements) == 0 {
		return f
	}

	primary := d.Elements[0]
	f.Location.File = primary.SourceMapping.FilenameRelative
	if f.Location.File == "" {
		f.Location.File = primary.SourceMapping.FilenameShort
	}
	f.Location.StartLine, f.Location.EndLine = lineSpan(primary.SourceMapping.Lines)
	f.Location.Contract, f.Location.Function = functionOf(d.Elements)
	return f
}

// functionOf returns the contract and name of the first function element,
// or of the function enclosing the first node element.
func functionOf(elements []Element) (contract, function string) {
	for _, e := range elements {
		switch e.Type {
		case "function":
			return contractOf(&e), e.Name
		case "node":
			if p := e.TypeSpecific.Parent; p != nil && p.Type == "function" {
				return contractOf(p), p.Name
			}
		}
	}
	return "", ""
}

func contractOf(fn *Element) string {
	if p := fn.TypeSpecific.Parent; p != nil && p.Type == "contract" {
		return p.Name
	}
	return ""
}

func lineSpan(lines []int) (int, int) {
	if len(lines) == 0 {
		return 0, 0
	}
	lo, hi := lines[0], lines[0]
	for _, l := range lines[1:] {
		lo = min(lo, l)
		hi = max(hi, l)
	}
	return lo, hi
}
