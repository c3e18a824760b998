package reconcile

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/psantana5/velero-watchdog/internal/classify"
	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	backups []models.Backup
	err     error
}

func (f *fakeSource) ListBackups(ctx context.Context) ([]models.Backup, error) {
	return f.backups, f.err
}

type fakeTrigger struct {
	calls []string
	names map[string]string
	errs  map[string]error
}

func (f *fakeTrigger) TriggerSchedule(ctx context.Context, schedule string) (string, error) {
	f.calls = append(f.calls, schedule)
	if err := f.errs[schedule]; err != nil {
		return "", err
	}
	return f.names[schedule], nil
}

type fakePruner struct {
	calls []string
	errs  map[string]error
}

func (f *fakePruner) DeleteBackup(ctx context.Context, name string) error {
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func quietLogger() *logging.Logger {
	log := logging.NewLogger(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}

func failedBackup(name, schedule string, age time.Duration) models.Backup {
	b := models.Backup{
		Metadata: models.ObjectMeta{Name: name, Namespace: "velero"},
		Status: models.BackupStatus{
			Phase:          models.PhaseFailed,
			StartTimestamp: testNow.Add(-age).Format(time.RFC3339),
		},
	}
	if schedule != "" {
		b.Metadata.OwnerReferences = []models.OwnerReference{
			{Kind: models.OwnerKindSchedule, Name: schedule},
		}
	}
	return b
}

func completedBackup(name string, age time.Duration) models.Backup {
	return models.Backup{
		Metadata: models.ObjectMeta{Name: name, Namespace: "velero"},
		Status: models.BackupStatus{
			Phase:          models.PhaseCompleted,
			StartTimestamp: testNow.Add(-age).Format(time.RFC3339),
		},
	}
}

func newTestReconciler(source *fakeSource, trigger *fakeTrigger, pruners []Pruner, opts Options) *Reconciler {
	rec := NewReconciler(classify.DefaultConfig(), source, trigger, pruners, opts, quietLogger())
	rec.SetClock(func() time.Time { return testNow })
	return rec
}

func TestRunTriggersAndPrunes(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("daily-001", "daily", 2*time.Hour),
		failedBackup("weekly-001", "weekly", 3*time.Hour),
		completedBackup("daily-002", time.Hour),
	}}
	trigger := &fakeTrigger{names: map[string]string{
		"daily":  "daily-20240501120000",
		"weekly": "weekly-20240501120000",
	}}
	cliPruner := &fakePruner{}
	apiPruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{cliPruner, apiPruner}, Options{})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	wantCalls := []string{"daily", "weekly"}
	if !reflect.DeepEqual(trigger.calls, wantCalls) {
		t.Errorf("Expected triggers %v, got %v", wantCalls, trigger.calls)
	}

	wantPruned := []string{"daily-001", "weekly-001"}
	if !reflect.DeepEqual(cliPruner.calls, wantPruned) {
		t.Errorf("Expected CLI pruner calls %v, got %v", wantPruned, cliPruner.calls)
	}
	if !reflect.DeepEqual(apiPruner.calls, wantPruned) {
		t.Errorf("Expected API pruner calls %v, got %v", wantPruned, apiPruner.calls)
	}

	if len(summary.Triggered) != 2 {
		t.Errorf("Expected 2 trigger actions, got %d", len(summary.Triggered))
	}
	if summary.Triggered[0].NewBackup != "daily-20240501120000" {
		t.Errorf("Expected new backup name recorded, got %q", summary.Triggered[0].NewBackup)
	}
	if summary.ActionErrors() != 0 {
		t.Errorf("Expected no action errors, got %d", summary.ActionErrors())
	}
}

func TestRunNoFailures(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		completedBackup("daily-001", time.Hour),
	}}
	trigger := &fakeTrigger{}
	pruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{pruner}, Options{})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if len(trigger.calls) != 0 {
		t.Errorf("Expected no triggers, got %v", trigger.calls)
	}
	if len(pruner.calls) != 0 {
		t.Errorf("Expected no deletions, got %v", pruner.calls)
	}
	if !summary.Classification.Empty() {
		t.Error("Expected empty classification")
	}
}

func TestRunDryRun(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("daily-001", "daily", 2*time.Hour),
	}}
	trigger := &fakeTrigger{}
	pruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{pruner}, Options{DryRun: true})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if len(trigger.calls) != 0 {
		t.Errorf("Expected dry run to skip triggers, got %v", trigger.calls)
	}
	if len(pruner.calls) != 0 {
		t.Errorf("Expected dry run to skip deletions, got %v", pruner.calls)
	}
	if !summary.DryRun {
		t.Error("Expected summary to be marked dry run")
	}
	if len(summary.Triggered) != 1 || len(summary.Pruned) != 1 {
		t.Errorf("Expected planned actions in summary, got %d triggers and %d deletions",
			len(summary.Triggered), len(summary.Pruned))
	}
}

func TestRunSkipDelete(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("daily-001", "daily", 2*time.Hour),
	}}
	trigger := &fakeTrigger{names: map[string]string{"daily": "daily-new"}}
	pruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{pruner}, Options{SkipDelete: true})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if len(trigger.calls) != 1 {
		t.Errorf("Expected trigger despite skip-delete, got %v", trigger.calls)
	}
	if len(pruner.calls) != 0 {
		t.Errorf("Expected no deletions, got %v", pruner.calls)
	}
	if len(summary.Pruned) != 0 {
		t.Errorf("Expected no prune actions, got %v", summary.Pruned)
	}
}

func TestRunTriggerFailureContinues(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("daily-001", "daily", 2*time.Hour),
		failedBackup("weekly-001", "weekly", 3*time.Hour),
	}}
	trigger := &fakeTrigger{
		names: map[string]string{"weekly": "weekly-new"},
		errs:  map[string]error{"daily": errors.New("schedules.velero.io \"daily\" not found")},
	}
	pruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{pruner}, Options{})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed despite trigger failure, got %v", err)
	}

	wantCalls := []string{"daily", "weekly"}
	if !reflect.DeepEqual(trigger.calls, wantCalls) {
		t.Errorf("Expected both schedules attempted, got %v", trigger.calls)
	}
	if summary.ActionErrors() != 1 {
		t.Errorf("Expected 1 action error, got %d", summary.ActionErrors())
	}
	if summary.Triggered[0].Error == "" {
		t.Error("Expected error recorded for daily trigger")
	}
	if summary.Triggered[1].NewBackup != "weekly-new" {
		t.Errorf("Expected weekly trigger to succeed, got %+v", summary.Triggered[1])
	}

	// Deletion still happens for both failures
	wantPruned := []string{"daily-001", "weekly-001"}
	if !reflect.DeepEqual(pruner.calls, wantPruned) {
		t.Errorf("Expected deletions %v, got %v", wantPruned, pruner.calls)
	}
}

func TestRunPrunerFailureRecorded(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("daily-001", "daily", 2*time.Hour),
	}}
	trigger := &fakeTrigger{names: map[string]string{"daily": "daily-new"}}
	cliPruner := &fakePruner{errs: map[string]error{"daily-001": errors.New("exit status 1")}}
	apiPruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{cliPruner, apiPruner}, Options{})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if len(apiPruner.calls) != 1 {
		t.Errorf("Expected API pruner to run after CLI failure, got %v", apiPruner.calls)
	}
	if len(summary.Pruned) != 1 || summary.Pruned[0].Error == "" {
		t.Errorf("Expected prune error recorded, got %+v", summary.Pruned)
	}
	if summary.ActionErrors() != 1 {
		t.Errorf("Expected 1 action error, got %d", summary.ActionErrors())
	}
}

func TestRunUnattributedNeitherTriggeredNorPruned(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		failedBackup("adhoc-001", "", 2*time.Hour),
	}}
	trigger := &fakeTrigger{}
	pruner := &fakePruner{}

	rec := newTestReconciler(source, trigger, []Pruner{pruner}, Options{})
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if len(trigger.calls) != 0 {
		t.Errorf("Expected no triggers for unattributed failure, got %v", trigger.calls)
	}
	if len(pruner.calls) != 0 {
		t.Errorf("Expected no deletions for unattributed failure, got %v", pruner.calls)
	}
	if !summary.Classification.HasUnattributed() {
		t.Error("Expected unattributed failure to be reported")
	}
}

func TestRunListFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}

	rec := newTestReconciler(source, &fakeTrigger{}, nil, Options{})
	if _, err := rec.Run(context.Background()); err == nil {
		t.Error("Expected error when listing fails")
	}
}

func TestRunAssignsDistinctPassIDs(t *testing.T) {
	source := &fakeSource{backups: []models.Backup{
		completedBackup("daily-001", time.Hour),
	}}

	rec := newTestReconciler(source, &fakeTrigger{}, nil, Options{})
	first, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}
	second, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected pass to succeed, got %v", err)
	}

	if first.PassID == "" || second.PassID == "" {
		t.Error("Expected every pass to carry an ID")
	}
	if first.PassID == second.PassID {
		t.Errorf("Expected distinct pass IDs, got %q twice", first.PassID)
	}
}
