// Package mythril parses `myth analyze -o json` output.
package mythril

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// Format is the RawOutput.Format value for this dialect.
const Format = "mythril-json"

// Output is the top-level mythril JSON document.
type Output struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Issues  []Issue `json:"issues"`
}

// Issue is one mythril issue.
type Issue struct {
	Title       string `json:"title"`
	SWCID       string `json:"swc-id"`
	Severity    string `json:"severity"`
	Contract    string `json:"contract"`
	Function    string `json:"function"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	LineNo      int    `json:"lineno"`
}

// Parse converts mythril JSON into findings. Mythril reports no confidence;
// the adapter default applies.
func Parse(raw *core.RawOutput) ([]core.Finding, error) {
	var out Output
	if err := json.Unmarshal(raw.Stdout, &out); err != nil {
		return nil, fmt.Errorf("parse mythril JSON: %w", err)
	}
	if out.Error != nil && *out.Error != "" {
		return nil, fmt.Errorf("mythril reported failure: %s", *out.Error)
	}

	findings := make([]core.Finding, 0, len(out.Issues))
	for _, is := range out.Issues {
		category := is.Title
		if is.SWCID != "" {
			category = "SWC-" + strings.TrimPrefix(strings.ToUpper(is.SWCID), "SWC-")
		}
		findings = append(findings, core.Finding{
			Category:    category,
			Detector:    is.Title,
			SeverityRaw: severity.FromString(is.Severity),
			Description: strings.TrimSpace(is.Description),
			Location: core.Location{
				File:      is.Filename,
				StartLine: is.LineNo,
				EndLine:   is.LineNo,
				Contract:  strings.TrimSpace(is.Contract),
				Function:  functionName(is.Function),
			},
		})
	}
	return findings, nil
}

// functionName strips the parameter list: "withdraw(uint256)" -> "withdraw".
// Mythril reports the constructor and fallback with their own markers.
func functionName(sig string) string {
	if i := strings.IndexByte(sig, '('); i >= 0 {
		sig = sig[:i]
	}
	return strings.TrimSpace(sig)
}
