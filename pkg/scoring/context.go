package scoring

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/exploopio/solaudit/pkg/errors"
	"github.com/exploopio/solaudit/pkg/shared/fingerprint"
)

// FileContext holds the code features of one source file.
type FileContext struct {
	Path string `json:"path"`

	// IsTest marks test, mock and script sources.
	IsTest bool `json:"is_test,omitempty"`

	// IsThirdParty marks vendored library code.
	IsThirdParty bool `json:"is_third_party,omitempty"`

	// ExternalFunctions lists functions callable from outside the contract.
	ExternalFunctions []string `json:"external_functions,omitempty"`
}

// IsExternal reports whether fn is externally callable.
func (fc FileContext) IsExternal(fn string) bool {
	for _, f := range fc.ExternalFunctions {
		if f == fn {
			return true
		}
	}
	return false
}

// CodeContext maps source files to their features.
type CodeContext struct {
	files map[string]FileContext
	keys  []string
}

// NewCodeContext builds a context from file descriptions.
func NewCodeContext(files ...FileContext) *CodeContext {
	c := &CodeContext{files: make(map[string]FileContext, len(files))}
	for _, f := range files {
		key := fingerprint.NormalizePath(f.Path)
		if _, ok := c.files[key]; !ok {
			c.keys = append(c.keys, key)
		}
		c.files[key] = f
	}
	sort.Strings(c.keys)
	return c
}

// Len returns the number of files.
func (c *CodeContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.files)
}

// Lookup finds the features for a file. Paths match exactly after
// normalization, or by suffix when a tool reported a longer path.
func (c *CodeContext) Lookup(path string) (FileContext, bool) {
	if c == nil {
		return FileContext{}, false
	}
	key := fingerprint.NormalizePath(path)
	if fc, ok := c.files[key]; ok {
		return fc, true
	}
	for _, k := range c.keys {
		if strings.HasSuffix(key, "/"+k) || strings.HasSuffix(k, "/"+key) {
			return c.files[k], true
		}
	}
	return FileContext{}, false
}

var (
	externalFn = regexp.MustCompile(`function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)[^{;]*\b(external|public)\b`)
	fallbackFn = regexp.MustCompile(`\b(receive|fallback)\s*\(\s*\)[^{;]*\bexternal\b`)
)

var (
	testDirs   = []string{"/test/", "/tests/", "/mock/", "/mocks/", "/script/"}
	vendorDirs = []string{"/lib/", "/node_modules/", "/dependencies/", "@openzeppelin/", "@chainlink/"}
)

// Classify derives path-based features for a file.
func Classify(path string) FileContext {
	norm := "/" + fingerprint.NormalizePath(path)
	stem := strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".sol")

	fc := FileContext{Path: path}
	for _, d := range testDirs {
		fc.IsTest = fc.IsTest || strings.Contains(norm, d)
	}
	fc.IsTest = fc.IsTest || strings.HasSuffix(stem, ".t") ||
		strings.HasPrefix(stem, "mock") || strings.HasSuffix(stem, "mock") ||
		strings.HasPrefix(stem, "test") || strings.HasSuffix(stem, "test")

	for _, d := range vendorDirs {
		fc.IsThirdParty = fc.IsThirdParty || strings.Contains(norm, d)
	}
	return fc
}

// ParseSource extracts externally callable functions from Solidity source.
func ParseSource(fc FileContext, src []byte) FileContext {
	seen := make(map[string]bool)
	for _, m := range externalFn.FindAllSubmatch(src, -1) {
		seen[string(m[1])] = true
	}
	for _, m := range fallbackFn.FindAllSubmatch(src, -1) {
		seen[string(m[1])] = true
	}
	fc.ExternalFunctions = fc.ExternalFunctions[:0]
	for name := range seen {
		fc.ExternalFunctions = append(fc.ExternalFunctions, name)
	}
	sort.Strings(fc.ExternalFunctions)
	return fc
}

// InferCodeContext scans the .sol files of an artifact. Paths are relative
// to the artifact directory, or to the file's directory for a single file.
func InferCodeContext(artifact string) (*CodeContext, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return nil, errors.E(errors.KindPrecondition, "scoring.InferCodeContext", err.Error(), errors.ErrArtifactUnreadable)
	}

	root := artifact
	if !info.IsDir() {
		root = filepath.Dir(artifact)
	}

	var files []FileContext
	add := func(path string) error {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, ParseSource(Classify(filepath.ToSlash(rel)), src))
		return nil
	}

	if !info.IsDir() {
		if err := add(artifact); err != nil {
			return nil, errors.E(errors.KindPrecondition, "scoring.InferCodeContext", err.Error(), errors.ErrArtifactUnreadable)
		}
		return NewCodeContext(files...), nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "out" || name == "cache" || name == "artifacts" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".sol") {
			// unreadable files simply carry no context
			_ = add(path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scoring.InferCodeContext")
	}
	return NewCodeContext(files...), nil
}
