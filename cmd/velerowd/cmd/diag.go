package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/velero-watchdog/internal/diag"
)

var diagFormat string

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Check the environment the watchdog runs in",
	Long: `Diag probes everything a reconciliation pass depends on: the velero
binary, its client version, Kubernetes API credentials and host resources.

The command exits non-zero when a probe the current configuration relies
on fails, so it can back a readiness script.`,
	RunE: runDiag,
}

func init() {
	rootCmd.AddCommand(diagCmd)

	diagCmd.Flags().StringVar(&diagFormat, "format", "table", "output format: table, json or yaml")
}

func runDiag(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := diag.NewCollector(cfg).Collect(context.Background())

	switch diagFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return err
		}

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(report); err != nil {
			return err
		}

	default:
		host := tablewriter.NewWriter(os.Stdout)
		host.Header("Field", "Value")
		host.Append("Hostname", report.Hostname)
		host.Append("In Cluster", fmt.Sprintf("%v", report.InCluster))
		host.Append("CPU Cores", fmt.Sprintf("%d", report.CPUCores))
		host.Append("CPU Usage", fmt.Sprintf("%.1f%%", report.CPUUsagePct))
		host.Append("Memory Total", fmt.Sprintf("%d MB", report.MemTotalMB))
		host.Append("Memory Used", fmt.Sprintf("%.1f%%", report.MemUsedPct))
		host.Render()

		fmt.Println()

		checks := tablewriter.NewWriter(os.Stdout)
		checks.Header("Check", "Status", "Detail")
		for _, c := range report.Checks {
			checks.Append(c.Name, c.Status, c.Detail)
		}
		checks.Render()
	}

	if report.Failed() {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
