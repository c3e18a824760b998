package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/velero-watchdog/internal/metrics"
	"github.com/psantana5/velero-watchdog/internal/reconcile"
	"github.com/psantana5/velero-watchdog/internal/report"
)

var (
	timeWindow     int
	dryRun         bool
	debugMode      bool
	skipDelete     bool
	runMetricsFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan for failed backups and re-trigger their schedules",
	Long: `Run performs one reconciliation pass: it lists Velero backups, picks out
the ones that failed inside the time window, starts a fresh backup from
each owning schedule and deletes the failed records.

A failing velero invocation never aborts the pass and never changes the
exit code; only an unreachable backup listing does.

Example:
  velerowd run
  velerowd run --time-window 6 --dry-run
  velerowd run --source cli --skip-delete --output json`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&timeWindow, "time-window", "t", 24, "how many hours back to look for failed backups")
	runCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "report what would happen without triggering or deleting anything")
	runCmd.Flags().BoolVarP(&debugMode, "debug", "e", false, "force debug logging")
	runCmd.Flags().BoolVarP(&skipDelete, "skip-delete", "o", false, "keep failed backups instead of deleting them")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write pass metrics to this file in Prometheus textfile format")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("time-window") {
		cfg.TimeWindow = timeWindow
	}
	if dryRun {
		cfg.DryRun = true
	}
	if skipDelete {
		cfg.SkipDelete = true
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	if runMetricsFile != "" {
		cfg.MetricsFile = runMetricsFile
	}

	log := newLogger(cfg)

	rec, err := buildReconciler(cfg, log)
	if err != nil {
		return err
	}

	summary, err := rec.Run(context.Background())
	if err != nil {
		return err
	}

	if err := writeReport(summary); err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		collector := metrics.NewCollector()
		collector.Observe(summary)
		if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("Failed to write metrics file", map[string]interface{}{
				"path":  cfg.MetricsFile,
				"error": err.Error(),
			})
		}
	}

	return nil
}

func writeReport(summary *reconcile.Summary) error {
	doc := report.FromSummary(summary)
	if IsJSONOutput() {
		return report.WriteJSON(os.Stdout, doc)
	}
	return report.WriteTable(os.Stdout, doc)
}
