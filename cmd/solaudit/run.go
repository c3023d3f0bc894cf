package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/exploopio/solaudit/pkg/core"
	"github.com/exploopio/solaudit/pkg/metrics"
	"github.com/exploopio/solaudit/pkg/pipeline"
	"github.com/exploopio/solaudit/pkg/shared/severity"
)

var (
	outputPath  string
	metricsAddr string
	failOn      string
)

var runCmd = &cobra.Command{
	Use:   "run <artifact>",
	Short: "Analyze a contract file or project directory",
	Long: `Run every configured phase against the artifact, then correlate and score
the findings. The result (run report, clusters and verdicts) is written as
JSON to stdout or --output; a summary is printed to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if metricsAddr == "" {
			metricsAddr = cfg.MetricsAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		collector, shutdown, err := serveMetrics(metricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()

		p, _, err := cfg.Build(logger, collector)
		if err != nil {
			return err
		}

		res, err := p.Run(ctx, args[0], nil)
		if err != nil {
			return err
		}

		if err := writeResult(res); err != nil {
			return err
		}
		printSummary(res)

		if failOn != "" && exceeds(res, severity.FromString(failOn)) {
			return fmt.Errorf("reported issues at or above %s", failOn)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the JSON result to a file instead of stdout")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	runCmd.Flags().StringVar(&failOn, "fail-on", "", "Exit non-zero if a reported issue has this severity or higher")
	rootCmd.AddCommand(runCmd)
}

// serveMetrics starts a Prometheus endpoint when addr is set.
func serveMetrics(addr string, logger core.Logger) (metrics.Collector, func(), error) {
	if addr == "" {
		return metrics.NopCollector{}, func() {}, nil
	}
	collector, err := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{})
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	logger.Info("serving metrics on %s/metrics", addr)

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func writeResult(res *pipeline.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if outputPath == "" {
		_, err = fmt.Println(string(data))
		return err
	}
	return os.WriteFile(outputPath, append(data, '\n'), 0o644)
}

func printSummary(res *pipeline.Result) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	w := os.Stderr
	fmt.Fprintf(w, "\n%s %s\n", bold("Run"), res.Report.RunID)

	for _, run := range res.Report.Runs {
		status := gray(string(run.Status))
		switch run.Status {
		case core.StatusSuccess:
			status = green(string(run.Status))
		case core.StatusTimeout:
			status = yellow(string(run.Status))
		case core.StatusError:
			status = red(string(run.Status))
		}
		line := fmt.Sprintf("  %-10s %-12s %-9s %4d findings  %s",
			run.Phase, run.AgentID, status, len(run.Findings), run.Duration.Round(time.Millisecond))
		if detail := run.ErrorDetail + run.SkipReason; detail != "" {
			line += "  " + gray(detail)
		}
		fmt.Fprintln(w, line)
	}

	s := res.Summary
	fmt.Fprintf(w, "\n%d findings -> %d clusters -> %d reported, %d filtered as likely false positives\n",
		s.Findings, s.Clusters, s.Reported.Total, s.FalsePositives)
	fmt.Fprintf(w, "  %s %d  %s %d  %s %d  %s %d  info %d\n",
		red("critical"), s.Reported.Critical, red("high"), s.Reported.High,
		yellow("medium"), s.Reported.Medium, gray("low"), s.Reported.Low, s.Reported.Info)
	if s.Degraded > 0 {
		fmt.Fprintf(w, "  %s\n", yellow(fmt.Sprintf("%d verdicts scored without full context", s.Degraded)))
	}
	if res.Report.BudgetExhausted {
		fmt.Fprintf(w, "  %s\n", yellow("run budget exhausted; later phases skipped"))
	}
	if res.Report.Cancelled {
		fmt.Fprintf(w, "  %s\n", red("run cancelled"))
	}
}

// exceeds reports whether a reported verdict is at or above level.
func exceeds(res *pipeline.Result, level severity.Level) bool {
	for _, v := range res.Reported() {
		if v.FinalSeverity.IsAtLeast(level) {
			return true
		}
	}
	return false
}
