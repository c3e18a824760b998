package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/velero-watchdog/internal/classify"
	"github.com/psantana5/velero-watchdog/internal/models"
)

var (
	failedOnly    bool
	backupsWindow int
)

// backupRow is the listing shape shared by the table and JSON output
type backupRow struct {
	Name     string `json:"name"`
	Phase    string `json:"phase"`
	Schedule string `json:"schedule,omitempty"`
	Started  string `json:"started,omitempty"`
	Errors   int    `json:"errors,omitempty"`
	Warnings int    `json:"warnings,omitempty"`
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List Velero backups",
	Long: `List the Velero backups the watchdog sees, from the Kubernetes API or
from the velero CLI depending on --source.

With --failed only the backups the run command would act on are shown:
failures inside the time window, with the schedule each one belongs to.`,
	RunE: runBackups,
}

func init() {
	rootCmd.AddCommand(backupsCmd)

	backupsCmd.Flags().BoolVar(&failedOnly, "failed", false, "show only failed backups inside the time window")
	backupsCmd.Flags().IntVarP(&backupsWindow, "time-window", "t", 24, "how many hours back to look when --failed is set")
}

func runBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("time-window") {
		cfg.TimeWindow = backupsWindow
	}

	log := newLogger(cfg)

	lister, err := buildLister(cfg, log)
	if err != nil {
		return err
	}

	backups, err := lister.ListBackups(context.Background())
	if err != nil {
		return err
	}

	var rows []backupRow
	if failedOnly {
		res := classify.Run(cfg.ClassifyConfig(), backups, time.Now().UTC())
		for _, m := range res.Matches {
			rows = append(rows, backupRow{
				Name:     m.Backup,
				Phase:    string(m.Phase),
				Schedule: m.Schedule,
				Started:  m.Started.Format(time.RFC3339),
			})
		}
	} else {
		for i := range backups {
			b := &backups[i]
			rows = append(rows, backupRow{
				Name:     b.Name(),
				Phase:    string(b.Status.Phase),
				Schedule: scheduleOf(b, cfg.ScheduleLabel),
				Started:  b.Status.StartTimestamp,
				Errors:   b.Status.Errors,
				Warnings: b.Status.Warnings,
			})
		}
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(rows) == 0 {
		if failedOnly {
			fmt.Printf("No failed backups in last %d hours\n", cfg.TimeWindow)
		} else {
			fmt.Println("No backups found")
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	if failedOnly {
		table.Header("Backup", "Phase", "Schedule", "Started")
		for _, r := range rows {
			table.Append(r.Name, r.Phase, orDash(r.Schedule), r.Started)
		}
	} else {
		table.Header("Backup", "Phase", "Schedule", "Started", "Errors")
		for _, r := range rows {
			table.Append(r.Name, r.Phase, orDash(r.Schedule), orDash(r.Started), fmt.Sprintf("%d", r.Errors))
		}
	}
	table.Render()

	fmt.Printf("\nTotal: %d backups\n", len(rows))
	return nil
}

// scheduleOf resolves the schedule a backup belongs to the same way the
// classifier does: ownerReferences first, then the schedule label.
func scheduleOf(b *models.Backup, labelKey string) string {
	if owners := b.ScheduleOwners(); len(owners) > 0 {
		return strings.Join(owners, ",")
	}
	return b.ScheduleLabel(labelKey)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
