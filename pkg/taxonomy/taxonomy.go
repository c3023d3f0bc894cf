// Package taxonomy maps tool-specific vulnerability labels onto the
// vendor-neutral SWC registry codes used to correlate findings.
package taxonomy

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/exploopio/solaudit/pkg/errors"
)

// Wildcard as a capability means "may report any category".
const Wildcard = "*"

// Entry is one canonical category.
type Entry struct {
	Code    string   `yaml:"code" json:"code"`
	Title   string   `yaml:"title" json:"title"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Taxonomy resolves raw labels to canonical codes. Safe for concurrent use.
type Taxonomy struct {
	mu      sync.RWMutex
	entries map[string]Entry
	aliases map[string]string
}

var swcPattern = regexp.MustCompile(`^swc[-_ ]?(\d{3})$`)

// New creates an empty taxonomy.
func New() *Taxonomy {
	return &Taxonomy{
		entries: make(map[string]Entry),
		aliases: make(map[string]string),
	}
}

// Default returns a taxonomy preloaded with the SWC registry and the
// detector names of the bundled adapters.
func Default() *Taxonomy {
	t := New()
	for _, e := range builtin {
		// builtin is static; a duplicate here is a programming error
		if err := t.Add(e); err != nil {
			panic(err)
		}
	}
	return t
}

// Add registers a canonical entry and its aliases. Adding aliases to an
// existing code extends it; an alias already bound to another code is an error.
func (t *Taxonomy) Add(e Entry) error {
	code := strings.ToUpper(strings.TrimSpace(e.Code))
	if code == "" {
		return errors.E(errors.KindConfig, "taxonomy.Add", "empty code")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[code]
	if !ok {
		existing = Entry{Code: code, Title: e.Title}
	} else if e.Title != "" {
		existing.Title = e.Title
	}

	for _, raw := range e.Aliases {
		key := normalize(raw)
		if key == "" {
			continue
		}
		if bound, ok := t.aliases[key]; ok && bound != code {
			return errors.E(errors.KindConfig, "taxonomy.Add",
				fmt.Sprintf("alias %q already maps to %s", raw, bound))
		}
		if _, ok := t.aliases[key]; !ok {
			existing.Aliases = append(existing.Aliases, raw)
		}
		t.aliases[key] = code
	}
	t.aliases[normalize(code)] = code
	t.entries[code] = existing
	return nil
}

// Canonicalize maps a raw label to its canonical code. Unmapped labels
// yield a *errors.MergeConfigError.
func (t *Taxonomy) Canonicalize(raw string) (string, error) {
	key := normalize(raw)
	if key == "" {
		return "", &errors.MergeConfigError{Category: raw, Reason: "empty category"}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if code, ok := t.aliases[key]; ok {
		return code, nil
	}
	if m := swcPattern.FindStringSubmatch(key); m != nil {
		code := "SWC-" + m[1]
		if _, ok := t.entries[code]; ok {
			return code, nil
		}
	}
	return "", &errors.MergeConfigError{Category: raw}
}

// Lookup returns the entry for a canonical code.
func (t *Taxonomy) Lookup(code string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[strings.ToUpper(strings.TrimSpace(code))]
	return e, ok
}

// Codes returns all canonical codes, sorted.
func (t *Taxonomy) Codes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	codes := make([]string, 0, len(t.entries))
	for code := range t.entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Covers reports whether a capability set includes the canonical category.
// Capabilities may be canonical codes, aliases or the wildcard. Capabilities
// that do not resolve are ignored.
func (t *Taxonomy) Covers(capabilities []string, category string) bool {
	for _, c := range capabilities {
		if strings.TrimSpace(c) == Wildcard {
			return true
		}
		code, err := t.Canonicalize(c)
		if err == nil && code == category {
			return true
		}
	}
	return false
}

// file is the YAML document shape accepted by Load.
type file struct {
	Categories []Entry `yaml:"categories"`
}

// Load extends the taxonomy from a YAML document:
//
//	categories:
//	  - code: SWC-107
//	    aliases: [my-reentrancy-rule]
func (t *Taxonomy) Load(r io.Reader) error {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.E(errors.KindConfig, "taxonomy.Load", "decode taxonomy", err)
	}
	for _, e := range f.Categories {
		if err := t.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile extends the taxonomy from a YAML file.
func (t *Taxonomy) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.E(errors.KindConfig, "taxonomy.LoadFile", "open taxonomy file", err)
	}
	defer f.Close()
	return t.Load(f)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", "-")
}
