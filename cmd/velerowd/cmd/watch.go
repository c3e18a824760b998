package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/velero-watchdog/internal/metrics"
	"github.com/psantana5/velero-watchdog/internal/watch"
)

var (
	watchInterval    time.Duration
	listenAddr       string
	watchMetricsFile string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run reconciliation passes on an interval",
	Long: `Watch mode runs the reconciliation pass on a fixed interval and serves
Prometheus metrics and a health endpoint while it does.

The first pass runs immediately on startup. SIGINT or SIGTERM stops the
daemon between passes; a pass in flight has its velero commands cancelled.

Example:
  velerowd watch
  velerowd watch --interval 15m --listen :9090
  velerowd watch --dry-run --interval 1m`,
	RunE: runWatchDaemon,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "time between passes (default from config or 1h)")
	watchCmd.Flags().StringVar(&listenAddr, "listen", "", "address for /metrics and /healthz (default from config or :8085)")
	watchCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "report what would happen without triggering or deleting anything")
	watchCmd.Flags().StringVar(&watchMetricsFile, "metrics-file", "", "also write pass metrics to this file in Prometheus textfile format")
}

func runWatchDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if watchInterval > 0 {
		cfg.Interval = watchInterval
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dryRun {
		cfg.DryRun = true
	}
	if watchMetricsFile != "" {
		cfg.MetricsFile = watchMetricsFile
	}

	log := newLogger(cfg)

	rec, err := buildReconciler(cfg, log)
	if err != nil {
		return err
	}

	sep := strings.Repeat("═", 62)
	fmt.Printf("╔%s╗\n", sep)
	fmt.Printf("║ %-60s ║\n", "Velero Backup Watchdog")
	fmt.Printf("╠%s╣\n", sep)
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Namespace:   %s", cfg.Namespace))
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Source:      %s", cfg.Source))
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Interval:    %s", cfg.Interval))
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Listen:      %s", orDash(cfg.Listen)))
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Time Window: %d hours", cfg.TimeWindow))
	fmt.Printf("║ %-60s ║\n", fmt.Sprintf("Dry Run:     %v", cfg.DryRun))
	fmt.Printf("╚%s╝\n", sep)
	fmt.Println()

	service := watch.NewService(watch.Config{
		Interval:    cfg.Interval,
		Listen:      cfg.Listen,
		MetricsFile: cfg.MetricsFile,
	}, rec, metrics.NewCollector(), log)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	log.Info("Service started")

	if err := service.Start(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("service error: %w", err)
	}

	log.Info("Service stopped gracefully")
	return nil
}
