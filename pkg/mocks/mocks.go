// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
)

// =============================================================================
// Mock Adapter
// =============================================================================

// MockAdapter is a programmable core.Adapter.
type MockAdapter struct {
	NameValue         string
	VersionValue      string
	CapabilitiesValue []string

	// Unavailable makes the default IsAvailable return false.
	Unavailable bool

	// Findings are returned by the default Normalize, stamped with the tool name.
	Findings []core.Finding

	// IsAvailableFn is called when IsAvailable is invoked
	IsAvailableFn func(ctx context.Context) bool

	// AnalyzeFn is called when Analyze is invoked
	AnalyzeFn func(ctx context.Context, artifactPath string, opts core.Options, timeout time.Duration) (*core.RawOutput, error)

	// NormalizeFn is called when Normalize is invoked
	NormalizeFn func(raw *core.RawOutput) []core.Finding

	mu               sync.Mutex
	analyzeCalls     []AnalyzeCall
	isAvailableCalls int
}

// AnalyzeCall records one Analyze invocation.
type AnalyzeCall struct {
	ArtifactPath string
	Options      core.Options
	Timeout      time.Duration
	At           time.Time
}

// New creates an available mock adapter.
func New(name string, capabilities ...string) *MockAdapter {
	return &MockAdapter{NameValue: name, VersionValue: "0.0.0-mock", CapabilitiesValue: capabilities}
}

// WithFindings sets the findings returned by Normalize.
func (m *MockAdapter) WithFindings(findings ...core.Finding) *MockAdapter {
	m.Findings = findings
	return m
}

// Failing makes Analyze return err.
func (m *MockAdapter) Failing(err error) *MockAdapter {
	m.AnalyzeFn = func(context.Context, string, core.Options, time.Duration) (*core.RawOutput, error) {
		return nil, err
	}
	return m
}

// Sleeping makes Analyze block for d. When honorCtx is false the sleep
// ignores cancellation, like a tool that never checks its context.
func (m *MockAdapter) Sleeping(d time.Duration, honorCtx bool) *MockAdapter {
	m.AnalyzeFn = func(ctx context.Context, path string, _ core.Options, _ time.Duration) (*core.RawOutput, error) {
		if !honorCtx {
			time.Sleep(d)
			return &core.RawOutput{Tool: m.NameValue, ArtifactPath: path}, nil
		}
		select {
		case <-time.After(d):
			return &core.RawOutput{Tool: m.NameValue, ArtifactPath: path}, nil
		case <-ctx.Done():
			return nil, errors.NewToolFault(m.NameValue, errors.FaultTimeout, "", ctx.Err())
		}
	}
	return m
}

// Panicking makes Analyze panic.
func (m *MockAdapter) Panicking(msg string) *MockAdapter {
	m.AnalyzeFn = func(context.Context, string, core.Options, time.Duration) (*core.RawOutput, error) {
		panic(msg)
	}
	return m
}

func (m *MockAdapter) Name() string           { return m.NameValue }
func (m *MockAdapter) Version() string        { return m.VersionValue }
func (m *MockAdapter) Capabilities() []string { return m.CapabilitiesValue }

func (m *MockAdapter) IsAvailable(ctx context.Context) bool {
	m.mu.Lock()
	m.isAvailableCalls++
	m.mu.Unlock()
	if m.IsAvailableFn != nil {
		return m.IsAvailableFn(ctx)
	}
	return !m.Unavailable
}

func (m *MockAdapter) Analyze(ctx context.Context, artifactPath string, opts core.Options, timeout time.Duration) (*core.RawOutput, error) {
	m.mu.Lock()
	m.analyzeCalls = append(m.analyzeCalls, AnalyzeCall{ArtifactPath: artifactPath, Options: opts, Timeout: timeout, At: time.Now()})
	m.mu.Unlock()
	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(ctx, artifactPath, opts, timeout)
	}
	return &core.RawOutput{Tool: m.NameValue, ToolVersion: m.VersionValue, Format: "mock", ArtifactPath: artifactPath}, nil
}

func (m *MockAdapter) Normalize(raw *core.RawOutput) []core.Finding {
	if m.NormalizeFn != nil {
		return m.NormalizeFn(raw)
	}
	out := make([]core.Finding, len(m.Findings))
	for i, f := range m.Findings {
		if f.ToolName == "" {
			f.ToolName = m.NameValue
		}
		out[i] = f
	}
	return out
}

// AnalyzeCalls returns a copy of the recorded Analyze calls.
func (m *MockAdapter) AnalyzeCalls() []AnalyzeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AnalyzeCall, len(m.analyzeCalls))
	copy(out, m.analyzeCalls)
	return out
}

// IsAvailableCalls returns how many times IsAvailable was called.
func (m *MockAdapter) IsAvailableCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isAvailableCalls
}

var _ core.Adapter = (*MockAdapter)(nil)
