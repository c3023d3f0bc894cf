package adapters

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

type recordingLogger struct {
	core.NopLogger
	warnings []string
}

func (l *recordingLogger) Warn(format string, args ...interface{}) {
	l.warnings = append(l.warnings, format)
}

func jsonParser(raw *core.RawOutput) ([]core.Finding, error) {
	var out []core.Finding
	if err := json.Unmarshal(raw.Stdout, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func TestBuildArgs(t *testing.T) {
	a := New(Config{Name: "myth", Args: []string{"analyze", PlaceholderTarget, "--timeout", PlaceholderTimeout, "-o", PlaceholderOutput}}, nil)
	args := a.BuildArgs("/src/Vault.sol", "/tmp/out.json", 90*time.Second, core.Options{core.OptionExtraArgs: []string{"--solv", "0.8.20"}})
	assert.Equal(t, []string{"analyze", "/src/Vault.sol", "--timeout", "90", "-o", "/tmp/out.json", "--solv", "0.8.20"}, args)
}

func TestIsAvailable_Idempotent(t *testing.T) {
	ctx := context.Background()

	missing := New(Config{Name: "definitely-not-a-real-analyzer-xyz"}, nil)
	first := missing.IsAvailable(ctx)
	second := missing.IsAvailable(ctx)
	assert.False(t, first)
	assert.Equal(t, first, second)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, New(Config{Name: "sh"}, nil).IsAvailable(cancelled))
}

func TestAnalyze_NotInstalled(t *testing.T) {
	a := New(Config{Name: "definitely-not-a-real-analyzer-xyz"}, nil)
	_, err := a.Analyze(context.Background(), t.TempDir(), nil, time.Second)

	fault, ok := errors.AsToolFault(err)
	require.True(t, ok)
	assert.Equal(t, errors.FaultNotInstalled, fault.Reason)
}

func TestNormalize(t *testing.T) {
	log := &recordingLogger{}
	a := New(Config{Name: "fake", Version: "1.2.3", DefaultConfidence: 0.4}, jsonParser, WithLogger(log))

	raw := &core.RawOutput{Tool: "fake", Format: "json", ArtifactPath: "/nonexistent/Vault.sol", Stdout: []byte(`[
		{"category": "reentrancy-eth", "severity_raw": "high", "location": {"file": "Vault.sol", "start_line": 10, "end_line": 12}},
		{"category": "naming-convention", "severity_raw": "info", "confidence_raw": 0.9, "location": {"file": "Vault.sol"}},
		{"category": "", "location": {"file": "Vault.sol"}}
	]`)}

	findings := a.Normalize(raw)
	require.Len(t, findings, 2)

	f := findings[0]
	assert.Equal(t, "SWC-107", f.Category)
	assert.Equal(t, "reentrancy-eth", f.Detector)
	assert.Equal(t, "fake", f.ToolName)
	assert.Equal(t, "1.2.3", f.ToolVersion)
	assert.Equal(t, severity.High, f.SeverityRaw)
	assert.InDelta(t, 0.4, f.ConfidenceRaw, 1e-9)
	assert.Len(t, f.ID, 64)

	// Unmapped labels are kept for correlation to isolate.
	assert.Equal(t, "naming-convention", findings[1].Category)
	assert.InDelta(t, 0.9, findings[1].ConfidenceRaw, 1e-9)

	// The empty-category finding was dropped with a warning.
	assert.Len(t, log.warnings, 1)
}

func TestNormalize_NeverFails(t *testing.T) {
	log := &recordingLogger{}
	a := New(Config{Name: "fake"}, jsonParser, WithLogger(log))
	assert.Empty(t, a.Normalize(&core.RawOutput{Stdout: []byte("{garbage")}))
	assert.Empty(t, a.Normalize(nil))

	panicky := New(Config{Name: "panicky"}, func(*core.RawOutput) ([]core.Finding, error) {
		panic("index out of range")
	}, WithLogger(log))
	assert.Empty(t, panicky.Normalize(&core.RawOutput{}))
	assert.Len(t, log.warnings, 2)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"aderyn", "mythril", "semgrep", "slither", "solhint"}, ListPresets())
	for _, name := range ListPresets() {
		a, err := NewPreset(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, a.Name())
		assert.NotEmpty(t, a.Capabilities(), name)
		for _, c := range a.Capabilities() {
			assert.True(t, strings.HasPrefix(c, "SWC-"), c)
		}
	}
	_, err := NewPreset("nope")
	assert.Error(t, err)
}

func TestRelativeTo(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Vault.sol")
	require.NoError(t, os.WriteFile(file, []byte("contract Vault {}"), 0o644))
	assert.Equal(t, "Vault.sol", relativeTo(file, file))
	assert.Equal(t, "Vault.sol", relativeTo(dir, file))
}
