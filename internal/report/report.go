package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/velero-watchdog/internal/reconcile"
)

// Document is the machine readable form of one reconciliation pass
type Document struct {
	PassID       string      `json:"pass_id,omitempty"`
	GeneratedAt  time.Time   `json:"generated_at"`
	WindowHours  int         `json:"window_hours"`
	DryRun       bool        `json:"dry_run"`
	Schedules    []string    `json:"schedules"`
	Backups      []string    `json:"backups"`
	Failures     []Failure   `json:"failures"`
	Skipped      []Skipped   `json:"skipped,omitempty"`
	Triggered    []Triggered `json:"triggered,omitempty"`
	Deleted      []Deleted   `json:"deleted,omitempty"`
	ActionErrors int         `json:"action_errors"`
	DurationMS   int64       `json:"duration_ms"`
}

// Failure is one failed backup attributed to one schedule
type Failure struct {
	Backup   string  `json:"backup"`
	Schedule string  `json:"schedule"`
	Phase    string  `json:"phase"`
	Started  string  `json:"started"`
	AgeHours float64 `json:"age_hours"`
}

// Skipped is a backup record the classifier could not evaluate
type Skipped struct {
	Backup string `json:"backup"`
	Reason string `json:"reason"`
}

// Triggered is the outcome of one schedule trigger
type Triggered struct {
	Schedule  string `json:"schedule"`
	NewBackup string `json:"new_backup,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Deleted is the outcome of one backup deletion
type Deleted struct {
	Backup string `json:"backup"`
	Error  string `json:"error,omitempty"`
}

// FromSummary flattens a reconciliation summary into a document
func FromSummary(s *reconcile.Summary) *Document {
	doc := &Document{
		PassID:       s.PassID,
		GeneratedAt:  s.StartedAt,
		WindowHours:  int(s.Window.Hours()),
		DryRun:       s.DryRun,
		Schedules:    s.Classification.Schedules,
		Backups:      s.Classification.Backups,
		ActionErrors: s.ActionErrors(),
		DurationMS:   s.Duration.Milliseconds(),
	}

	for _, m := range s.Classification.Matches {
		doc.Failures = append(doc.Failures, Failure{
			Backup:   m.Backup,
			Schedule: m.Schedule,
			Phase:    string(m.Phase),
			Started:  m.Started.Format(time.RFC3339),
			AgeHours: m.Age.Hours(),
		})
	}
	for _, sk := range s.Classification.Skipped {
		doc.Skipped = append(doc.Skipped, Skipped{Backup: sk.Backup, Reason: sk.Reason})
	}
	for _, a := range s.Triggered {
		doc.Triggered = append(doc.Triggered, Triggered{
			Schedule:  a.Schedule,
			NewBackup: a.NewBackup,
			Error:     a.Error,
		})
	}
	for _, a := range s.Pruned {
		doc.Deleted = append(doc.Deleted, Deleted{Backup: a.Backup, Error: a.Error})
	}

	return doc
}

// WriteJSON renders the document as indented JSON
func WriteJSON(w io.Writer, doc *Document) error {
	output, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Fprintln(w, string(output))
	return nil
}

// WriteTable renders the document as tables for humans
func WriteTable(w io.Writer, doc *Document) error {
	if len(doc.Failures) == 0 && len(doc.Skipped) == 0 {
		fmt.Fprintf(w, "No failed backups in last %d hours\n", doc.WindowHours)
		return nil
	}

	if doc.DryRun {
		fmt.Fprintln(w, "Dry run, no schedules were triggered and no backups were deleted")
	}

	if len(doc.Failures) > 0 {
		fmt.Fprintln(w, "Failed backups:")
		table := tablewriter.NewWriter(w)
		table.Header("Backup", "Schedule", "Phase", "Started", "Age")
		for _, f := range doc.Failures {
			table.Append(f.Backup, f.Schedule, f.Phase, f.Started, fmt.Sprintf("%.1fh", f.AgeHours))
		}
		table.Render()
	}

	if len(doc.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped records:")
		table := tablewriter.NewWriter(w)
		table.Header("Backup", "Reason")
		for _, s := range doc.Skipped {
			table.Append(s.Backup, s.Reason)
		}
		table.Render()
	}

	if len(doc.Triggered) > 0 {
		fmt.Fprintln(w, "\nTriggered schedules:")
		table := tablewriter.NewWriter(w)
		table.Header("Schedule", "New Backup", "Result")
		for _, a := range doc.Triggered {
			table.Append(a.Schedule, orDash(a.NewBackup), actionResult(a.Error, doc.DryRun))
		}
		table.Render()
	}

	if len(doc.Deleted) > 0 {
		fmt.Fprintln(w, "\nDeleted backups:")
		table := tablewriter.NewWriter(w)
		table.Header("Backup", "Result")
		for _, a := range doc.Deleted {
			table.Append(a.Backup, actionResult(a.Error, doc.DryRun))
		}
		table.Render()
	}

	fmt.Fprintf(w, "\nTotal failed backups: %d across %d schedules\n", len(doc.Backups), len(doc.Schedules))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func actionResult(errMsg string, dryRun bool) string {
	if errMsg != "" {
		return errMsg
	}
	if dryRun {
		return "planned"
	}
	return "ok"
}
