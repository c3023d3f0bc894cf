//go:build unix

package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
)

func artifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Vault.sol")
	require.NoError(t, os.WriteFile(path, []byte("pragma solidity ^0.8.0;\ncontract Vault {}\n"), 0o644))
	return path
}

func TestAnalyze_Success(t *testing.T) {
	a := New(Config{
		Name:   "echo-tool",
		Binary: "sh",
		Args:   []string{"-c", `printf '[{"category":"suicidal","severity_raw":"high","location":{"file":"Vault.sol","start_line":2}}]'`},
		Format: "json",
	}, jsonParser)

	raw, err := a.Analyze(context.Background(), artifact(t), nil, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, raw.ExitCode)

	findings := a.Normalize(raw)
	require.Len(t, findings, 1)
	assert.Equal(t, "SWC-106", findings[0].Category)
}

func TestAnalyze_DetectedVersion(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "fake-analyzer")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "fake-analyzer 0.4.1"
  echo "build abc123"
  exit 0
fi
printf '[{"category":"suicidal","severity_raw":"high","location":{"file":"Vault.sol","start_line":2}}]'
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	a := New(Config{Name: "fake-analyzer", Binary: bin, Format: "json"}, jsonParser)
	raw, err := a.Analyze(context.Background(), artifact(t), nil, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fake-analyzer 0.4.1", raw.ToolVersion)

	findings := a.Normalize(raw)
	require.Len(t, findings, 1)
	assert.Equal(t, "fake-analyzer 0.4.1", findings[0].ToolVersion)
}

func TestAnalyze_NonzeroExit(t *testing.T) {
	a := New(Config{Name: "broken", Binary: "sh", Args: []string{"-c", "echo 'solc: compilation failed' >&2; exit 3"}}, jsonParser)

	_, err := a.Analyze(context.Background(), artifact(t), nil, 10*time.Second)
	fault, ok := errors.AsToolFault(err)
	require.True(t, ok)
	assert.Equal(t, errors.FaultNonzeroExit, fault.Reason)
	assert.Equal(t, 3, fault.ExitCode)
	assert.Contains(t, fault.Detail, "compilation failed")
}

func TestAnalyze_OKExitCode(t *testing.T) {
	a := New(Config{Name: "findings-exit", Binary: "sh", Args: []string{"-c", "echo '[]'; exit 1"}, OKExitCodes: []int{0, 1}}, jsonParser)
	raw, err := a.Analyze(context.Background(), artifact(t), nil, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, raw.ExitCode)
}

func TestAnalyze_MalformedInput(t *testing.T) {
	a := New(Config{Name: "sh"}, jsonParser)
	_, err := a.Analyze(context.Background(), "/definitely/not/here.sol", nil, time.Second)
	fault, ok := errors.AsToolFault(err)
	require.True(t, ok)
	assert.Equal(t, errors.FaultMalformedInput, fault.Reason)
}

func TestAnalyze_OutputFile(t *testing.T) {
	a := New(Config{
		Name:      "report-writer",
		Binary:    "sh",
		Args:      []string{"-c", `printf '[]' > "$1"`, "sh", PlaceholderOutput},
		OutputExt: ".json",
	}, jsonParser)

	raw, err := a.Analyze(context.Background(), artifact(t), nil, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw.Stdout))
}

func TestAnalyze_TimeoutKillsProcessGroup(t *testing.T) {
	// The child sleep keeps the pipes open; only a group kill ends it promptly.
	a := New(Config{Name: "sleeper", Binary: "sh", Args: []string{"-c", "sleep 5 & sleep 5; wait"}, KillGrace: 500 * time.Millisecond}, jsonParser)

	start := time.Now()
	_, err := a.Analyze(context.Background(), artifact(t), nil, time.Second)
	elapsed := time.Since(start)

	fault, ok := errors.AsToolFault(err)
	require.True(t, ok)
	assert.Equal(t, errors.FaultTimeout, fault.Reason)
	assert.True(t, errors.IsTimeoutError(err))
	assert.Less(t, elapsed, 3*time.Second)
}

func TestAnalyze_EnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{
		Name:   "env-tool",
		Binary: "sh",
		Args:   []string{"-c", `printf '[{"category":"%s","location":{"file":"%s"}}]' "$CATEGORY" "$(basename "$PWD")"`},
		Env:    map[string]string{"CATEGORY": "tx-origin"},
	}, jsonParser)

	raw, err := a.Analyze(context.Background(), artifact(t), core.Options{core.OptionWorkDir: dir}, 10*time.Second)
	require.NoError(t, err)

	findings := a.Normalize(raw)
	require.Len(t, findings, 1)
	assert.Equal(t, "SWC-115", findings[0].Category)
	assert.Equal(t, filepath.Base(dir), findings[0].Location.File)
}
