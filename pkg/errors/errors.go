// Package errors provides the error types used across solaudit.
//
// Only precondition failures surface to callers of a run. Tool faults,
// merge configuration errors and scoring degradations are recorded against
// the agent run or cluster that produced them.
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all solaudit errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "orchestrator.Run")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindTimeout
	KindPrecondition
	KindToolFault
	KindConfig
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindPrecondition:
		return "precondition"
	case KindToolFault:
		return "tool_fault"
	case KindConfig:
		return "config"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Tool Fault
// =============================================================================

// FaultReason classifies why an adapter invocation failed.
type FaultReason string

const (
	FaultNotInstalled   FaultReason = "NOT_INSTALLED"
	FaultTimeout        FaultReason = "TIMEOUT"
	FaultNonzeroExit    FaultReason = "NONZERO_EXIT"
	FaultMalformedInput FaultReason = "MALFORMED_INPUT"
)

// ToolFault is raised by a tool adapter's Analyze call.
type ToolFault struct {
	Tool     string      `json:"tool"`
	Reason   FaultReason `json:"reason"`
	ExitCode int         `json:"exit_code,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	Err      error       `json:"-"`
}

// NewToolFault creates a ToolFault.
func NewToolFault(tool string, reason FaultReason, detail string, err error) *ToolFault {
	return &ToolFault{Tool: tool, Reason: reason, Detail: detail, Err: err}
}

// Error implements the error interface.
func (f *ToolFault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Tool, f.Reason)
	if f.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, f.ExitCode)
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (f *ToolFault) Unwrap() error {
	return f.Err
}

// Is lets errors.Is(err, ErrToolFault) match any ToolFault.
func (f *ToolFault) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == KindToolFault
	}
	return false
}

// AsToolFault checks if err is a ToolFault and returns it.
func AsToolFault(err error) (*ToolFault, bool) {
	var f *ToolFault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// =============================================================================
// Correlation / Scoring
// =============================================================================

// MergeConfigError reports a finding category with no taxonomy mapping.
// The finding falls back to a singleton cluster.
type MergeConfigError struct {
	Category string
	Reason   string
}

// Error implements the error interface.
func (e *MergeConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("merge config: category %q: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("merge config: no taxonomy mapping for category %q", e.Category)
}

// Is lets errors.Is(err, ErrMergeConfig) match any MergeConfigError.
func (e *MergeConfigError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindConfig
}

// ScoringDegradation reports a cluster scored without some of its features.
type ScoringDegradation struct {
	ClusterID string
	Missing   []string
	Err       error
}

// Error implements the error interface.
func (e *ScoringDegradation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring degraded for cluster %s: %v", e.ClusterID, e.Err)
	}
	return fmt.Sprintf("scoring degraded for cluster %s: missing %v", e.ClusterID, e.Missing)
}

// Unwrap returns the underlying error.
func (e *ScoringDegradation) Unwrap() error {
	return e.Err
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op or Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: GetKind(err), Op: op, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if _, ok := AsToolFault(err); ok {
		return KindToolFault
	}
	var m *MergeConfigError
	if errors.As(err, &m) {
		return KindConfig
	}
	return KindUnknown
}

// IsTimeoutError checks if the error is a timeout error.
func IsTimeoutError(err error) bool {
	if GetKind(err) == KindTimeout {
		return true
	}
	if f, ok := AsToolFault(err); ok {
		return f.Reason == FaultTimeout
	}
	return false
}

// IsPreconditionError checks if the error aborts a run before any phase starts.
func IsPreconditionError(err error) bool {
	return GetKind(err) == KindPrecondition
}

// IsCancelled checks if the error is a cancellation.
func IsCancelled(err error) bool {
	return GetKind(err) == KindCancelled
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrArtifactUnreadable is returned when the input artifact cannot be read.
	ErrArtifactUnreadable = &Error{Kind: KindPrecondition, Message: "artifact unreadable"}

	// ErrEmptyPlan is returned when a phase plan has no phases or no agents.
	ErrEmptyPlan = &Error{Kind: KindPrecondition, Message: "phase plan is empty"}

	// ErrUnknownAgent is returned when a plan references an unregistered agent.
	ErrUnknownAgent = &Error{Kind: KindPrecondition, Message: "unknown agent"}

	// ErrDuplicateAgent is returned when an agent ID is registered twice.
	ErrDuplicateAgent = &Error{Kind: KindInvalidInput, Message: "agent already registered"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindConfig, Message: "invalid configuration"}

	// ErrToolFault matches any ToolFault via errors.Is.
	ErrToolFault = &Error{Kind: KindToolFault, Message: "tool fault"}

	// ErrMergeConfig matches any MergeConfigError via errors.Is.
	ErrMergeConfig = &Error{Kind: KindConfig, Message: "merge configuration"}
)
