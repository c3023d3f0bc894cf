package adapters

import (
	"fmt"
	"sort"
	"time"

	"github.com/exploopio/solaudit/pkg/adapters/mythril"
	"github.com/exploopio/solaudit/pkg/adapters/sarif"
	"github.com/exploopio/solaudit/pkg/adapters/slither"
)

// =============================================================================
// Presets - Ready to use configurations for common Solidity analyzers
// =============================================================================

// Preset is an adapter configuration plus scheduling hints.
type Preset struct {
	Config   Config
	Parser   Parser
	Speed    string
	Priority int
	Timeout  time.Duration
}

// Parsers maps output dialects to parsers, for custom agents in config.
var Parsers = map[string]Parser{
	slither.Format: slither.Parse,
	mythril.Format: mythril.Parse,
	sarif.Format:   sarif.Parse,
}

// Presets contains configurations for the bundled analyzers.
var Presets = map[string]Preset{
	"slither": {
		Config: Config{
			Name:              "slither",
			Binary:            "slither",
			Args:              []string{PlaceholderTarget, "--json", "-"},
			OKExitCodes:       []int{0, 1, 255},
			Format:            slither.Format,
			DefaultConfidence: 0.6,
			Capabilities: []string{
				"SWC-100", "SWC-101", "SWC-102", "SWC-103", "SWC-104", "SWC-105",
				"SWC-106", "SWC-107", "SWC-108", "SWC-109", "SWC-111", "SWC-112",
				"SWC-113", "SWC-115", "SWC-116", "SWC-119", "SWC-120", "SWC-124",
				"SWC-128", "SWC-131", "SWC-135",
			},
		},
		Parser:   slither.Parse,
		Speed:    "fast",
		Priority: 10,
		Timeout:  5 * time.Minute,
	},
	"aderyn": {
		Config: Config{
			Name:              "aderyn",
			Binary:            "aderyn",
			Args:              []string{PlaceholderTarget, "--output", PlaceholderOutput},
			OKExitCodes:       []int{0},
			Format:            sarif.Format,
			OutputExt:         ".sarif",
			DefaultConfidence: 0.5,
			Capabilities: []string{
				"SWC-100", "SWC-103", "SWC-104", "SWC-105", "SWC-106", "SWC-107",
				"SWC-115", "SWC-116", "SWC-128", "SWC-131",
			},
		},
		Parser:   sarif.Parse,
		Speed:    "fast",
		Priority: 20,
		Timeout:  5 * time.Minute,
	},
	"solhint": {
		Config: Config{
			Name:              "solhint",
			Binary:            "solhint",
			Args:              []string{"--formatter", "sarif", PlaceholderTarget},
			OKExitCodes:       []int{0, 1},
			Format:            sarif.Format,
			DefaultConfidence: 0.4,
			Capabilities: []string{
				"SWC-100", "SWC-102", "SWC-103", "SWC-106", "SWC-108", "SWC-111",
				"SWC-115", "SWC-116", "SWC-119", "SWC-131",
			},
		},
		Parser:   sarif.Parse,
		Speed:    "fast",
		Priority: 30,
		Timeout:  2 * time.Minute,
	},
	"semgrep": {
		Config: Config{
			Name:              "semgrep",
			Binary:            "semgrep",
			Args:              []string{"scan", "--sarif", "--quiet", "--config", "p/smart-contracts", PlaceholderTarget},
			OKExitCodes:       []int{0, 1},
			Format:            sarif.Format,
			DefaultConfidence: 0.5,
			Capabilities:      []string{"SWC-104", "SWC-105", "SWC-107", "SWC-112", "SWC-115", "SWC-116"},
		},
		Parser:   sarif.Parse,
		Speed:    "medium",
		Priority: 40,
		Timeout:  10 * time.Minute,
	},
	"mythril": {
		Config: Config{
			Name:              "mythril",
			Binary:            "myth",
			Args:              []string{"analyze", PlaceholderTarget, "-o", "json", "--execution-timeout", PlaceholderTimeout},
			OKExitCodes:       []int{0, 1},
			Format:            mythril.Format,
			DefaultConfidence: 0.7,
			Capabilities: []string{
				"SWC-101", "SWC-104", "SWC-105", "SWC-106", "SWC-107", "SWC-110",
				"SWC-112", "SWC-113", "SWC-114", "SWC-115", "SWC-116", "SWC-120",
				"SWC-123", "SWC-124", "SWC-127",
			},
		},
		Parser:   mythril.Parse,
		Speed:    "slow",
		Priority: 50,
		Timeout:  30 * time.Minute,
	},
}

// NewPreset creates an adapter from a preset.
func NewPreset(name string, opts ...Option) (*BaseAdapter, error) {
	p, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset adapter: %s", name)
	}
	return New(p.Config, p.Parser, opts...), nil
}

// ListPresets returns all preset names, sorted.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
