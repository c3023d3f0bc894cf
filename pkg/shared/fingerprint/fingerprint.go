// Package fingerprint generates stable identifiers for findings and clusters.
//
// Fingerprints are SHA256 hashes (64 hex characters) over normalized
// fields, so the same input always yields the same identifier regardless
// of path separators, case or surrounding whitespace.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Type represents what is being fingerprinted.
type Type string

const (
	// TypeFinding identifies one tool's claim about one location.
	TypeFinding Type = "finding"

	// TypeCluster identifies a correlated group of findings.
	TypeCluster Type = "cluster"

	// TypeContract identifies a contract-level claim with no line information.
	TypeContract Type = "contract"
)

// Input contains the data needed to generate a fingerprint.
// Not all fields are required - only the relevant ones for the type.
type Input struct {
	Type Type

	Tool     string // Producing tool (findings only)
	Category string // Canonical taxonomy code, e.g. "SWC-107"
	FilePath string
	Function string
	Message  string

	// Zero means unknown.
	StartLine int
	EndLine   int

	// Cluster-specific: IDs of member findings, order-insensitive.
	MemberIDs []string
}

// Generate creates a fingerprint for the given input.
//
//   - Finding: tool + category + file + lines + function
//   - Contract: tool + category + file + message (no line to anchor on)
//   - Cluster: category + file + span + sorted member IDs
func Generate(input Input) string {
	var data string

	switch input.Type {
	case TypeFinding:
		data = fmt.Sprintf("finding:%s:%s:%s:%d:%d:%s",
			normalize(input.Tool),
			normalize(input.Category),
			NormalizePath(input.FilePath),
			input.StartLine,
			input.EndLine,
			normalize(input.Function),
		)

	case TypeContract:
		data = fmt.Sprintf("contract:%s:%s:%s:%s",
			normalize(input.Tool),
			normalize(input.Category),
			NormalizePath(input.FilePath),
			normalize(input.Message),
		)

	case TypeCluster:
		members := make([]string, len(input.MemberIDs))
		copy(members, input.MemberIDs)
		sort.Strings(members)
		data = fmt.Sprintf("cluster:%s:%s:%d:%d:%s",
			normalize(input.Category),
			NormalizePath(input.FilePath),
			input.StartLine,
			input.EndLine,
			strings.Join(members, ","),
		)

	default:
		data = fmt.Sprintf("generic:%s:%s:%d:%d:%s",
			normalize(input.Category),
			NormalizePath(input.FilePath),
			input.StartLine,
			input.EndLine,
			normalize(input.Message),
		)
	}

	return Hash(data)
}

// GenerateFinding fingerprints a single finding. A zero startLine yields a
// contract-level fingerprint keyed on the message instead of the span.
func GenerateFinding(tool, category, filePath string, startLine, endLine int, function, message string) string {
	if startLine == 0 {
		return Generate(Input{
			Type:     TypeContract,
			Tool:     tool,
			Category: category,
			FilePath: filePath,
			Message:  message,
		})
	}
	return Generate(Input{
		Type:      TypeFinding,
		Tool:      tool,
		Category:  category,
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Function:  function,
	})
}

// GenerateCluster fingerprints a cluster.
func GenerateCluster(category, filePath string, startLine, endLine int, memberIDs []string) string {
	return Generate(Input{
		Type:      TypeCluster,
		Category:  category,
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   endLine,
		MemberIDs: memberIDs,
	})
}

// Short returns the first 12 characters of a fingerprint, for display.
func Short(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}

// Hash computes SHA256 hash of the input string.
// Returns 64 hex characters.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// normalize cleans up a string for consistent fingerprinting.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePath lowercases, converts Windows separators and drops a
// leading "./" so relative paths from different tools agree.
func NormalizePath(p string) string {
	p = normalize(p)
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}
