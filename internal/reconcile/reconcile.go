package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/velero-watchdog/internal/classify"
	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/models"
)

// Source lists backup records from wherever they live, the API server or the
// velero CLI
type Source interface {
	ListBackups(ctx context.Context) ([]models.Backup, error)
}

// Trigger starts a fresh backup from a schedule
type Trigger interface {
	TriggerSchedule(ctx context.Context, schedule string) (string, error)
}

// Pruner removes one failed backup record
type Pruner interface {
	DeleteBackup(ctx context.Context, name string) error
}

// Options control one reconciliation pass
type Options struct {
	DryRun     bool
	SkipDelete bool
}

// ScheduleAction records the outcome of one schedule trigger
type ScheduleAction struct {
	Schedule  string
	NewBackup string
	Error     string
}

// BackupAction records the outcome of one backup deletion
type BackupAction struct {
	Backup string
	Error  string
}

// Summary captures everything a reconciliation pass saw and did. PassID ties
// the log lines of one pass together when watch mode interleaves output.
type Summary struct {
	PassID         string
	StartedAt      time.Time
	Duration       time.Duration
	Window         time.Duration
	DryRun         bool
	Classification classify.Result
	Triggered      []ScheduleAction
	Pruned         []BackupAction
}

// ActionErrors counts external actions that failed during the pass
func (s *Summary) ActionErrors() int {
	count := 0
	for _, a := range s.Triggered {
		if a.Error != "" {
			count++
		}
	}
	for _, a := range s.Pruned {
		if a.Error != "" {
			count++
		}
	}
	return count
}

// Reconciler runs the list, classify, trigger, prune cycle. External command
// and API failures are logged and recorded but never abort the pass; one
// broken schedule must not block retries for the others.
type Reconciler struct {
	cfg     classify.Config
	source  Source
	trigger Trigger
	pruners []Pruner
	opts    Options
	log     *logging.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciler. Multiple pruners run in order for each
// backup so the CLI deletion and the API record removal both happen.
func NewReconciler(cfg classify.Config, source Source, trigger Trigger, pruners []Pruner, opts Options, log *logging.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		source:  source,
		trigger: trigger,
		pruners: pruners,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Run performs one reconciliation pass. Only a failed listing returns an
// error; everything after that is best effort.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	passID := uuid.NewString()
	log := r.log.WithField("pass", passID)
	started := r.now()

	backups, err := r.source.ListBackups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	res := classify.Run(r.cfg, backups, r.now())

	summary := &Summary{
		PassID:         passID,
		StartedAt:      started,
		Window:         r.cfg.Window,
		DryRun:         r.opts.DryRun,
		Classification: res,
	}

	for _, skip := range res.Skipped {
		log.Warn("Skipping unreadable backup record", map[string]interface{}{
			"backup": skip.Backup,
			"reason": skip.Reason,
		})
	}

	if res.Empty() {
		log.Info(fmt.Sprintf("No failed backups in last %d hours", int(r.cfg.Window.Hours())))
		summary.Duration = r.now().Sub(started)
		return summary, nil
	}

	for _, m := range res.Matches {
		log.Info(fmt.Sprintf("Found failed backup '%s', belongs to '%s' schedule", m.Backup, m.Schedule))
	}
	if res.HasUnattributed() {
		log.Warn("Some failed backups have no owning schedule and will not be re-triggered")
	}

	r.triggerSchedules(ctx, log, res, summary)
	r.pruneBackups(ctx, log, res, summary)

	summary.Duration = r.now().Sub(started)
	return summary, nil
}

func (r *Reconciler) triggerSchedules(ctx context.Context, log *logging.Logger, res classify.Result, summary *Summary) {
	for _, schedule := range res.Triggerable() {
		if r.opts.DryRun {
			log.Info(fmt.Sprintf("Dry run: would trigger backup from '%s' schedule", schedule))
			summary.Triggered = append(summary.Triggered, ScheduleAction{Schedule: schedule})
			continue
		}

		name, err := r.trigger.TriggerSchedule(ctx, schedule)
		if err != nil {
			log.Error("Failed to trigger schedule", map[string]interface{}{
				"schedule": schedule,
				"error":    err.Error(),
			})
			summary.Triggered = append(summary.Triggered, ScheduleAction{Schedule: schedule, Error: err.Error()})
			continue
		}

		log.Info(fmt.Sprintf("Created new backup '%s' from '%s' schedule", name, schedule))
		summary.Triggered = append(summary.Triggered, ScheduleAction{Schedule: schedule, NewBackup: name})
	}
}

func (r *Reconciler) pruneBackups(ctx context.Context, log *logging.Logger, res classify.Result, summary *Summary) {
	if r.opts.SkipDelete {
		log.Info("Keeping failed backups, deletion disabled")
		return
	}

	// Only failures tied to a schedule are pruned; the new backup from the
	// schedule replaces them. Ad-hoc failures keep their record.
	for _, backup := range res.AttributedBackups() {
		if r.opts.DryRun {
			log.Info(fmt.Sprintf("Dry run: would delete previously failed backup '%s'", backup))
			summary.Pruned = append(summary.Pruned, BackupAction{Backup: backup})
			continue
		}

		log.Info(fmt.Sprintf("Delete previously failed backup '%s'", backup))

		var errs []string
		for _, pruner := range r.pruners {
			if err := pruner.DeleteBackup(ctx, backup); err != nil {
				log.Error("Failed to delete backup", map[string]interface{}{
					"backup": backup,
					"error":  err.Error(),
				})
				errs = append(errs, err.Error())
			}
		}
		summary.Pruned = append(summary.Pruned, BackupAction{
			Backup: backup,
			Error:  strings.Join(errs, "; "),
		})
	}
}
