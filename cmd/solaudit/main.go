// solaudit runs a set of Solidity analyzers against a contract or project,
// correlates what they report and scores each issue.
//
//	solaudit run --config solaudit.yaml ./contracts
//	solaudit tools --config solaudit.yaml
//	solaudit version
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "solaudit",
	Short: "Multi-tool smart contract security analysis",
	Long: `solaudit orchestrates static and symbolic Solidity analyzers in phases,
merges findings that describe the same issue and scores every merged issue
so that likely false positives can be filtered.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (default: all presets)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error, silent)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
