// Package core provides the domain model and the tool adapter contract
// shared by the orchestrator, correlation engine and scoring pipeline.
package core

import (
	"context"
	"time"
)

// =============================================================================
// Adapter Interface - Wraps one external analysis tool
// =============================================================================

// Adapter is the contract every external analyzer wrapper implements.
// Implementations must be safe for concurrent use; the orchestrator may
// invoke the same adapter from several agents in one phase.
type Adapter interface {
	// Name returns the tool name (e.g., "slither", "mythril")
	Name() string

	// Version returns the tool version, or "" if unknown
	Version() string

	// Capabilities returns the categories the tool can report.
	// Entries are canonical codes, taxonomy aliases or "*".
	Capabilities() []string

	// IsAvailable reports whether the tool can run on this host.
	// It must be idempotent and touch nothing beyond the host environment.
	IsAvailable(ctx context.Context) bool

	// Analyze runs the tool against the artifact. Failures are returned as
	// *errors.ToolFault. The adapter should stop work when ctx is done;
	// the orchestrator does not rely on it.
	Analyze(ctx context.Context, artifactPath string, opts Options, timeout time.Duration) (*RawOutput, error)

	// Normalize converts raw output into findings. It never fails:
	// malformed output yields an empty slice and a logged warning.
	Normalize(raw *RawOutput) []Finding
}

// Options carries per-dispatch settings from the phase plan to an adapter.
type Options map[string]any

// Common option keys.
const (
	// OptionExtraArgs is a []string appended to the tool command line.
	OptionExtraArgs = "extra_args"

	// OptionEnv is a map[string]string added to the tool environment.
	OptionEnv = "env"

	// OptionWorkDir overrides the tool working directory.
	OptionWorkDir = "work_dir"
)

// String returns the string option, or "".
func (o Options) String(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns the []string option, or nil.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringMap returns the map[string]string option, or nil.
func (o Options) StringMap(key string) map[string]string {
	switch v := o[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy with room for extra keys.
func (o Options) Clone() Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// RawOutput holds one tool invocation's output before normalization.
type RawOutput struct {
	// Tool info
	Tool        string `json:"tool"`
	ToolVersion string `json:"tool_version,omitempty"`

	// Format is the output dialect, e.g. "slither-json", "sarif"
	Format string `json:"format"`

	ArtifactPath string        `json:"artifact_path"`
	ExitCode     int           `json:"exit_code"`
	Duration     time.Duration `json:"duration"`

	Stdout []byte `json:"-"`
	Stderr string `json:"stderr,omitempty"`
}
