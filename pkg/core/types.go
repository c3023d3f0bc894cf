package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/exploopio/solaudit/pkg/compress"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

// =============================================================================
// Finding
// =============================================================================

// Finding is one claim from one tool. Immutable once emitted.
type Finding struct {
	ID          string `json:"id"`
	ToolName    string `json:"tool_name"`
	ToolVersion string `json:"tool_version,omitempty"`

	// Category is the canonical taxonomy code. Adapters that cannot map a
	// label leave the raw label here; correlation isolates such findings.
	Category string `json:"category"`

	// Detector is the tool's own rule or check name.
	Detector string `json:"detector,omitempty"`

	SeverityRaw   severity.Level `json:"severity_raw"`
	ConfidenceRaw float64        `json:"confidence_raw"`

	Location Location `json:"location"`

	Description    string `json:"description,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Validate checks the fields every finding must carry.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.Category) == "" {
		return errors.E(errors.KindInvalidInput, "core.Finding", "category is required")
	}
	if strings.TrimSpace(f.Location.File) == "" {
		return errors.E(errors.KindInvalidInput, "core.Finding", "location.file is required")
	}
	if f.ConfidenceRaw < 0 || f.ConfidenceRaw > 1 {
		return errors.E(errors.KindInvalidInput, "core.Finding", fmt.Sprintf("confidence %v out of [0,1]", f.ConfidenceRaw))
	}
	return nil
}

// Location is a file and an optional 1-based line range. StartLine 0 marks
// a contract-level finding with no line information.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Contract  string `json:"contract,omitempty"`
	Function  string `json:"function,omitempty"`
}

// HasLines reports whether the location carries a line range.
func (l Location) HasLines() bool {
	return l.StartLine > 0
}

// Span returns the line range with EndLine defaulted and ordered.
func (l Location) Span() (int, int) {
	start, end := l.StartLine, l.EndLine
	if end < start {
		end = start
	}
	return start, end
}

// Gap returns the number of lines between two ranges, 0 when they overlap
// or touch. Both locations must have lines.
func (l Location) Gap(other Location) int {
	s1, e1 := l.Span()
	s2, e2 := other.Span()
	switch {
	case e1 < s2:
		return s2 - e1
	case e2 < s1:
		return s1 - e2
	default:
		return 0
	}
}

// SameFunction reports whether both locations name the same function of
// the same contract. Locations missing either name never match.
func (l Location) SameFunction(other Location) bool {
	return l.Function != "" && l.Contract != "" &&
		l.Function == other.Function && l.Contract == other.Contract
}

// Union returns the smallest location covering both. The contract and
// function names are kept only when both agree.
func (l Location) Union(other Location) Location {
	out := Location{File: l.File}
	if l.Contract == other.Contract {
		out.Contract = l.Contract
	}
	if l.Function == other.Function {
		out.Function = l.Function
	}
	if !l.HasLines() || !other.HasLines() {
		if l.HasLines() {
			out.StartLine, out.EndLine = l.Span()
		} else if other.HasLines() {
			out.StartLine, out.EndLine = other.Span()
		}
		return out
	}
	s1, e1 := l.Span()
	s2, e2 := other.Span()
	out.StartLine = min(s1, s2)
	out.EndLine = max(e1, e2)
	return out
}

// String formats the location as file:start-end.
func (l Location) String() string {
	if !l.HasLines() {
		return l.File
	}
	start, end := l.Span()
	if start == end {
		return fmt.Sprintf("%s:%d", l.File, start)
	}
	return fmt.Sprintf("%s:%d-%d", l.File, start, end)
}

// =============================================================================
// AgentRun
// =============================================================================

// AgentStatus is the lifecycle state of one agent execution.
type AgentStatus string

const (
	StatusPending AgentStatus = "PENDING"
	StatusRunning AgentStatus = "RUNNING"
	StatusSuccess AgentStatus = "SUCCESS"
	StatusTimeout AgentStatus = "TIMEOUT"
	StatusError   AgentStatus = "ERROR"
	StatusSkipped AgentStatus = "SKIPPED"
)

// IsTerminal reports whether no further transition is allowed.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusTimeout, StatusError, StatusSkipped:
		return true
	}
	return false
}

// AgentRun records one dispatch of one agent.
type AgentRun struct {
	// Key is unique within a run: "<agentID>#<n>" for the n-th listing.
	Key     string `json:"key"`
	AgentID string `json:"agent_id"`
	Tool    string `json:"tool"`
	Phase   string `json:"phase"`

	Status    AgentStatus   `json:"status"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Findings  []Finding     `json:"findings"`

	// ErrorDetail is set iff Status is ERROR or TIMEOUT.
	ErrorDetail string             `json:"error_detail,omitempty"`
	FaultReason errors.FaultReason `json:"fault_reason,omitempty"`

	// SkipReason is set iff Status is SKIPPED.
	SkipReason string `json:"skip_reason,omitempty"`

	// RawOutput is the tool's stdout, kept when retention is enabled.
	RawOutput *compress.Blob `json:"raw_output,omitempty"`
}

// NewAgentRun creates a PENDING run record.
func NewAgentRun(key, agentID, tool, phase string) *AgentRun {
	return &AgentRun{Key: key, AgentID: agentID, Tool: tool, Phase: phase, Status: StatusPending}
}

func (r *AgentRun) transition(to AgentStatus) error {
	ok := false
	switch r.Status {
	case StatusPending:
		ok = to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		ok = to == StatusSuccess || to == StatusTimeout || to == StatusError
	}
	if !ok {
		return errors.E(errors.KindInternal, "core.AgentRun",
			fmt.Sprintf("%s: illegal transition %s -> %s", r.Key, r.Status, to))
	}
	r.Status = to
	return nil
}

// Start moves PENDING -> RUNNING.
func (r *AgentRun) Start(now time.Time) error {
	if err := r.transition(StatusRunning); err != nil {
		return err
	}
	r.StartTime = now
	return nil
}

// Skip moves PENDING -> SKIPPED.
func (r *AgentRun) Skip(reason string) error {
	if err := r.transition(StatusSkipped); err != nil {
		return err
	}
	r.SkipReason = reason
	return nil
}

// Succeed moves RUNNING -> SUCCESS.
func (r *AgentRun) Succeed(findings []Finding, d time.Duration) error {
	if err := r.transition(StatusSuccess); err != nil {
		return err
	}
	r.Findings = findings
	r.Duration = d
	return nil
}

// Fail moves RUNNING -> TIMEOUT or ERROR. A TIMEOUT status requires no
// ToolFault; any other status is treated as ERROR.
func (r *AgentRun) Fail(status AgentStatus, reason errors.FaultReason, detail string, d time.Duration) error {
	if status != StatusTimeout {
		status = StatusError
	}
	if err := r.transition(status); err != nil {
		return err
	}
	if detail == "" {
		detail = string(status)
	}
	r.ErrorDetail = detail
	r.FaultReason = reason
	r.Findings = nil
	r.Duration = d
	return nil
}

// =============================================================================
// Cluster / Verdict
// =============================================================================

// Cluster is a set of findings judged to describe the same issue.
type Cluster struct {
	ID                string    `json:"id"`
	Members           []Finding `json:"members"`
	CanonicalCategory string    `json:"canonical_category"`
	CanonicalLocation Location  `json:"canonical_location"`

	// ContributingTools and EligibleTools are sorted.
	ContributingTools []string `json:"contributing_tools"`
	EligibleTools     []string `json:"eligible_tools"`
	AgreementScore    float64  `json:"agreement_score"`

	// Unmapped is set when the category had no taxonomy mapping.
	Unmapped bool `json:"unmapped,omitempty"`

	// Order is the creation order, used to break output ties.
	Order int `json:"order"`
}

// Primary returns the representative member (members are sorted by
// tool reliability, so this is the first).
func (c *Cluster) Primary() Finding {
	if len(c.Members) == 0 {
		return Finding{}
	}
	return c.Members[0]
}

// MaxConfidence returns the highest raw confidence among members.
func (c *Cluster) MaxConfidence() float64 {
	out := 0.0
	for _, m := range c.Members {
		out = max(out, m.ConfidenceRaw)
	}
	return out
}

// MaxSeverity returns the highest raw severity among members.
func (c *Cluster) MaxSeverity() severity.Level {
	out := severity.Unknown
	for _, m := range c.Members {
		out = severity.Max(out, m.SeverityRaw)
	}
	return out
}

// Attribution is one feature's contribution to a confidence score.
type Attribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Explanation summarises how a verdict was reached.
type Explanation struct {
	Summary      string        `json:"summary"`
	Attributions []Attribution `json:"attributions,omitempty"`
	Notes        []string      `json:"notes,omitempty"`
	Degraded     bool          `json:"degraded,omitempty"`
}

// Verdict is the final decision for one cluster.
type Verdict struct {
	ClusterID       string         `json:"cluster_id"`
	Category        string         `json:"category"`
	Location        Location       `json:"location"`
	FinalSeverity   severity.Level `json:"final_severity"`
	FinalConfidence float64        `json:"final_confidence"`
	IsFalsePositive bool           `json:"is_false_positive"`
	Explanation     Explanation    `json:"explanation"`
	ModelVersion    string         `json:"model_version"`

	// Order mirrors the cluster creation order.
	Order int `json:"-"`
}

// =============================================================================
// RunReport
// =============================================================================

// PhaseReport summarises one phase of a run.
type PhaseReport struct {
	Name         string        `json:"name"`
	Category     string        `json:"category,omitempty"`
	Skipped      bool          `json:"skipped,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	Duration     time.Duration `json:"duration"`
	FindingCount int           `json:"finding_count"`
}

// RunReport is the per-run execution record handed to report consumers.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Artifact  string        `json:"artifact"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Phases   []PhaseReport `json:"phases"`
	Runs     []*AgentRun   `json:"runs"`
	Findings []Finding     `json:"findings"`

	BudgetExhausted bool `json:"budget_exhausted,omitempty"`
	Cancelled       bool `json:"cancelled,omitempty"`
}

// CountByStatus counts agent runs by status.
func (r *RunReport) CountByStatus() map[AgentStatus]int {
	out := make(map[AgentStatus]int)
	for _, run := range r.Runs {
		out[run.Status]++
	}
	return out
}

// Run returns the agent run with the given key.
func (r *RunReport) Run(key string) *AgentRun {
	for _, run := range r.Runs {
		if run.Key == key {
			return run
		}
	}
	return nil
}

// RunsFor returns the runs of an agent in dispatch order.
func (r *RunReport) RunsFor(agentID string) []*AgentRun {
	var out []*AgentRun
	for _, run := range r.Runs {
		if run.AgentID == agentID {
			out = append(out, run)
		}
	}
	return out
}

// Tools returns the distinct tools that ran to completion, sorted.
func (r *RunReport) Tools() []string {
	seen := make(map[string]struct{})
	for _, run := range r.Runs {
		if run.Status == StatusSuccess {
			seen[run.Tool] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
