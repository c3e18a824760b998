package classify

import (
	"fmt"
	"sort"
	"time"

	"github.com/psantana5/velero-watchdog/internal/models"
)

// UnknownSchedule marks failed backups that carry no Schedule ownerReference
// and no schedule label. Parentheses are illegal in Kubernetes resource names,
// so the sentinel can never collide with a real schedule.
const UnknownSchedule = "(unknown)"

// Attribution selects how a failed backup is mapped to its owning schedule.
type Attribution string

const (
	// AttributionAllOwners credits every ownerReference of kind Schedule.
	// Owner lists conventionally hold a single controlling reference, but
	// every Schedule reference present is credited.
	AttributionAllOwners Attribution = "all-owners"

	// AttributionFirstOwner credits only the first Schedule ownerReference,
	// matching the older cleanup-script behavior.
	AttributionFirstOwner Attribution = "first-owner"
)

// Config is the immutable policy the classifier evaluates records against.
type Config struct {
	// Phases lists the backup phases that count as failures.
	Phases []models.BackupPhase

	// Window is the trailing duration within which a failure is recent.
	// The boundary is inclusive: age == Window still counts.
	Window time.Duration

	// ScheduleLabel is the label consulted when a backup has no Schedule
	// ownerReference.
	ScheduleLabel string

	// Attribution picks the owner-reference strategy.
	Attribution Attribution
}

// DefaultConfig returns the canonical classification policy.
func DefaultConfig() Config {
	return Config{
		Phases:        []models.BackupPhase{models.PhasePartiallyFailed, models.PhaseFailed},
		Window:        24 * time.Hour,
		ScheduleLabel: models.ScheduleNameLabel,
		Attribution:   AttributionAllOwners,
	}
}

// Match pairs one failed backup with one schedule it was attributed to.
// A backup owned by two schedules produces two matches.
type Match struct {
	Backup   string
	Schedule string
	Phase    models.BackupPhase
	Started  time.Time
	Age      time.Duration
}

// Skip records a backup the classifier could not evaluate.
type Skip struct {
	Backup string
	Reason string
}

// Result holds the outcome of one classification pass: the distinct schedules
// with recent failures and the distinct backups that triggered that judgment.
// Matches preserves per-record attribution in input order for reporting;
// Skipped carries diagnostics for records with unparseable timestamps.
type Result struct {
	Schedules []string
	Backups   []string
	Matches   []Match
	Skipped   []Skip
}

// Empty reports whether the pass found no recent failures.
func (r Result) Empty() bool {
	return len(r.Backups) == 0
}

// Triggerable returns the schedules that can actually be re-triggered,
// i.e. everything except the unknown sentinel.
func (r Result) Triggerable() []string {
	var out []string
	for _, s := range r.Schedules {
		if s != UnknownSchedule {
			out = append(out, s)
		}
	}
	return out
}

// AttributedBackups returns the failed backups tied to at least one real
// schedule. Unattributed failures stay visible in Backups but are neither
// re-triggered nor deleted.
func (r Result) AttributedBackups() []string {
	set := make(map[string]struct{})
	for _, m := range r.Matches {
		if m.Schedule != UnknownSchedule {
			set[m.Backup] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// HasUnattributed reports whether any failure resolved to the unknown sentinel.
func (r Result) HasUnattributed() bool {
	for _, s := range r.Schedules {
		if s == UnknownSchedule {
			return true
		}
	}
	return false
}

// Run classifies backups against cfg as of now. Pure: no I/O, no mutation of
// the input slice, deterministic for identical inputs. A backup is a recent
// failure when its phase is one of cfg.Phases and its age at now is at most
// cfg.Window; a start timestamp in the future counts as in-window. Backups
// that never started are ignored; backups whose start timestamp does not
// parse are reported in Result.Skipped and otherwise ignored.
func Run(cfg Config, backups []models.Backup, now time.Time) Result {
	var res Result

	schedules := make(map[string]struct{})
	names := make(map[string]struct{})

	for i := range backups {
		b := &backups[i]

		raw := b.Status.StartTimestamp
		if raw == "" {
			// Never started, not evaluable.
			continue
		}
		started, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{
				Backup: b.Name(),
				Reason: fmt.Sprintf("bad startTimestamp %q: %v", raw, err),
			})
			continue
		}

		if !phaseMatches(cfg.Phases, b.Status.Phase) {
			continue
		}

		age := now.Sub(started)
		if age > cfg.Window {
			continue
		}

		for _, schedule := range resolveSchedules(cfg, b) {
			schedules[schedule] = struct{}{}
			res.Matches = append(res.Matches, Match{
				Backup:   b.Name(),
				Schedule: schedule,
				Phase:    b.Status.Phase,
				Started:  started,
				Age:      age,
			})
		}
		names[b.Name()] = struct{}{}
	}

	res.Schedules = sortedKeys(schedules)
	res.Backups = sortedKeys(names)
	return res
}

// resolveSchedules attributes a failed backup to its owning schedules:
// Schedule ownerReferences first (all or first-only per cfg.Attribution),
// then the schedule label, then the unknown sentinel.
func resolveSchedules(cfg Config, b *models.Backup) []string {
	owners := b.ScheduleOwners()
	if len(owners) > 0 {
		if cfg.Attribution == AttributionFirstOwner {
			return owners[:1]
		}
		return dedupe(owners)
	}

	if cfg.ScheduleLabel != "" {
		if name := b.ScheduleLabel(cfg.ScheduleLabel); name != "" {
			return []string{name}
		}
	}

	return []string{UnknownSchedule}
}

func phaseMatches(phases []models.BackupPhase, phase models.BackupPhase) bool {
	for _, p := range phases {
		if p == phase {
			return true
		}
	}
	return false
}

// dedupe removes repeated names while preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
