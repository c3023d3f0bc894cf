package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List configured agents and whether their tools are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		tx, err := cfg.BuildTaxonomy()
		if err != nil {
			return err
		}
		reg, err := cfg.BuildRegistry(tx, logger)
		if err != nil {
			return err
		}

		available := reg.ProbeAll(cmd.Context())
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AGENT\tTOOL\tSPEED\tPRIORITY\tTIMEOUT\tSTATUS\tCATEGORIES")
		for _, a := range reg.List() {
			status := red("missing")
			if available[a.ID] {
				status = green("available")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				a.ID, a.ToolName(), a.Speed, a.Priority, a.EffectiveTimeout(), status,
				strings.Join(a.EffectiveCapabilities(), ","))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
