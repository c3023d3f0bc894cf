// Package adapters wraps external Solidity analyzers as core.Adapter
// implementations. BaseAdapter runs the tool as a child process in its own
// process group so a timeout kills the whole tool tree; a dialect Parser
// turns its output into findings.
package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/shared/fingerprint"
	"github.com/exploopio/solaudit/pkg/taxonomy"
)

// Parser converts one dialect of raw tool output into findings. Category
// holds the tool's own label; BaseAdapter canonicalizes it.
type Parser func(raw *core.RawOutput) ([]core.Finding, error)

// Placeholders substituted in Args.
const (
	PlaceholderTarget  = "{target}"
	PlaceholderOutput  = "{output}"
	PlaceholderTimeout = "{timeout_seconds}"
)

// =============================================================================
// BaseAdapter
// =============================================================================

// Config configures a BaseAdapter.
type Config struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Binary       string            `yaml:"binary" json:"binary"`
	Args         []string          `yaml:"args" json:"args"`
	OKExitCodes  []int             `yaml:"ok_exit_codes" json:"ok_exit_codes"`
	Capabilities []string          `yaml:"capabilities" json:"capabilities"`
	Env          map[string]string `yaml:"env" json:"env"`

	// Format names the output dialect recorded on RawOutput.
	Format string `yaml:"format" json:"format"`

	// OutputExt, when set, makes the adapter create a temp file with this
	// extension, substitute it for {output} and read results from it.
	OutputExt string `yaml:"output_ext" json:"output_ext"`

	// DefaultConfidence is applied to findings the tool reports without one.
	DefaultConfidence float64 `yaml:"default_confidence" json:"default_confidence"`

	// KillGrace is how long to wait for pipes after the process group is killed.
	KillGrace time.Duration `yaml:"kill_grace" json:"kill_grace"`
}

// BaseAdapter runs an external binary and normalizes its output.
type BaseAdapter struct {
	cfg      Config
	parse    Parser
	taxonomy *taxonomy.Taxonomy
	logger   core.Logger

	versionOnce sync.Once
	version     string
}

// Option configures a BaseAdapter.
type Option func(*BaseAdapter)

// WithLogger sets the logger used for parse warnings.
func WithLogger(l core.Logger) Option {
	return func(a *BaseAdapter) { a.logger = core.LoggerOrNop(l) }
}

// WithTaxonomy sets the taxonomy used to canonicalize categories.
func WithTaxonomy(tx *taxonomy.Taxonomy) Option {
	return func(a *BaseAdapter) {
		if tx != nil {
			a.taxonomy = tx
		}
	}
}

// New creates an adapter from cfg and a dialect parser.
func New(cfg Config, parse Parser, opts ...Option) *BaseAdapter {
	if cfg.Binary == "" {
		cfg.Binary = cfg.Name
	}
	if len(cfg.OKExitCodes) == 0 {
		cfg.OKExitCodes = []int{0}
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = core.DefaultConfidence
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	a := &BaseAdapter{
		cfg:      cfg,
		parse:    parse,
		taxonomy: taxonomy.Default(),
		logger:   core.NopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the tool name.
func (a *BaseAdapter) Name() string {
	return a.cfg.Name
}

// Version returns the configured version, or the first line of
// "<binary> --version" detected once.
func (a *BaseAdapter) Version() string {
	if a.cfg.Version != "" {
		return a.cfg.Version
	}
	a.versionOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, a.cfg.Binary, "--version").Output()
		if err != nil {
			return
		}
		line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
		a.version = strings.TrimSpace(line)
	})
	return a.version
}

// Capabilities returns the categories the tool reports.
func (a *BaseAdapter) Capabilities() []string {
	return a.cfg.Capabilities
}

// IsAvailable reports whether the binary resolves on PATH.
func (a *BaseAdapter) IsAvailable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := exec.LookPath(a.cfg.Binary)
	return err == nil
}

// Analyze runs the tool. Every failure is a *errors.ToolFault.
func (a *BaseAdapter) Analyze(ctx context.Context, artifactPath string, opts core.Options, timeout time.Duration) (*core.RawOutput, error) {
	binPath, err := exec.LookPath(a.cfg.Binary)
	if err != nil {
		return nil, errors.NewToolFault(a.cfg.Name, errors.FaultNotInstalled, a.cfg.Binary, err)
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, errors.NewToolFault(a.cfg.Name, errors.FaultMalformedInput, "artifact unreadable", err)
	}

	outputPath := ""
	if a.cfg.OutputExt != "" {
		f, err := os.CreateTemp("", "solaudit-"+a.cfg.Name+"-*"+a.cfg.OutputExt)
		if err != nil {
			return nil, errors.NewToolFault(a.cfg.Name, errors.FaultMalformedInput, "create output file", err)
		}
		outputPath = f.Name()
		f.Close()
		// Some tools refuse to overwrite an existing report.
		os.Remove(outputPath)
		defer os.Remove(outputPath)
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := a.BuildArgs(artifactPath, outputPath, timeout, opts)
	cmd := exec.CommandContext(execCtx, binPath, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = a.cfg.KillGrace

	switch {
	case opts.String(core.OptionWorkDir) != "":
		cmd.Dir = opts.String(core.OptionWorkDir)
	case info.IsDir():
		cmd.Dir = artifactPath
	default:
		cmd.Dir = filepath.Dir(artifactPath)
	}

	cmd.Env = os.Environ()
	for k, v := range a.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range opts.StringMap(core.OptionEnv) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Debug("[%s] running: %s %s", a.cfg.Name, a.cfg.Binary, strings.Join(args, " "))

	start := time.Now()
	runErr := cmd.Run()
	raw := &core.RawOutput{
		Tool:         a.cfg.Name,
		ToolVersion:  a.Version(),
		Format:       a.cfg.Format,
		ArtifactPath: artifactPath,
		Duration:     time.Since(start),
		Stdout:       stdout.Bytes(),
		Stderr:       stderr.String(),
	}

	if execCtx.Err() != nil {
		detail := fmt.Sprintf("killed after %s", raw.Duration.Round(time.Millisecond))
		if ctx.Err() != nil {
			detail = "cancelled"
		}
		return nil, errors.NewToolFault(a.cfg.Name, errors.FaultTimeout, detail, execCtx.Err())
	}

	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, errors.NewToolFault(a.cfg.Name, errors.FaultNonzeroExit, "start failed", runErr)
		}
		raw.ExitCode = exitErr.ExitCode()
	}
	if !slices.Contains(a.cfg.OKExitCodes, raw.ExitCode) {
		fault := errors.NewToolFault(a.cfg.Name, errors.FaultNonzeroExit, tail(raw.Stderr, 512), runErr)
		fault.ExitCode = raw.ExitCode
		return nil, fault
	}

	if outputPath != "" {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			return nil, errors.NewToolFault(a.cfg.Name, errors.FaultMalformedInput, "tool produced no report", err)
		}
		raw.Stdout = data
	}

	a.logger.Debug("[%s] completed in %s (exit %d)", a.cfg.Name, raw.Duration.Round(time.Millisecond), raw.ExitCode)
	return raw, nil
}

// BuildArgs substitutes placeholders and appends option extra args.
func (a *BaseAdapter) BuildArgs(target, output string, timeout time.Duration, opts core.Options) []string {
	secs := strconv.Itoa(int(timeout.Seconds()))
	args := make([]string, 0, len(a.cfg.Args))
	for _, arg := range a.cfg.Args {
		arg = strings.ReplaceAll(arg, PlaceholderTarget, target)
		arg = strings.ReplaceAll(arg, PlaceholderOutput, output)
		arg = strings.ReplaceAll(arg, PlaceholderTimeout, secs)
		args = append(args, arg)
	}
	return append(args, opts.Strings(core.OptionExtraArgs)...)
}

// Normalize parses raw output. It never fails: parse errors and parser
// panics are logged and yield no findings.
func (a *BaseAdapter) Normalize(raw *core.RawOutput) (findings []core.Finding) {
	if raw == nil || a.parse == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("[%s] parser panic: %v", a.cfg.Name, r)
			findings = nil
		}
	}()

	parsed, err := a.parse(raw)
	if err != nil {
		a.logger.Warn("[%s] cannot parse %s output: %v", a.cfg.Name, raw.Format, err)
		return nil
	}

	version := raw.ToolVersion
	if version == "" {
		version = a.Version()
	}

	out := make([]core.Finding, 0, len(parsed))
	for _, f := range parsed {
		f.ToolName = a.cfg.Name
		f.ToolVersion = version
		if f.Detector == "" {
			f.Detector = f.Category
		}
		if code, err := a.taxonomy.Canonicalize(f.Category); err == nil {
			f.Category = code
		} else {
			a.logger.Debug("[%s] %v", a.cfg.Name, err)
		}
		if f.ConfidenceRaw <= 0 {
			f.ConfidenceRaw = a.cfg.DefaultConfidence
		}
		f.ConfidenceRaw = core.ClampUnit(f.ConfidenceRaw)
		if f.Location.File == "" {
			f.Location.File = relativeTo(raw.ArtifactPath, raw.ArtifactPath)
		}
		if f.ID == "" {
			f.ID = fingerprint.GenerateFinding(f.ToolName, f.Detector, f.Location.File,
				f.Location.StartLine, f.Location.EndLine, f.Location.Function, f.Description)
		}
		if err := f.Validate(); err != nil {
			a.logger.Warn("[%s] dropping finding %s: %v", a.cfg.Name, fingerprint.Short(f.ID), err)
			continue
		}
		out = append(out, f)
	}
	return out
}

// relativeTo returns path relative to the artifact directory when possible.
func relativeTo(artifact, path string) string {
	base := artifact
	if info, err := os.Stat(artifact); err == nil && !info.IsDir() {
		base = filepath.Dir(artifact)
	}
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
		return rel
	}
	return filepath.Base(path)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ core.Adapter = (*BaseAdapter)(nil)
