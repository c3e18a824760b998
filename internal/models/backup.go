package models

// BackupPhase represents the lifecycle phase of a Velero backup
type BackupPhase string

const (
	PhaseNew              BackupPhase = "New"
	PhaseInProgress       BackupPhase = "InProgress"
	PhaseCompleted        BackupPhase = "Completed"
	PhasePartiallyFailed  BackupPhase = "PartiallyFailed"
	PhaseFailed           BackupPhase = "Failed"
	PhaseFailedValidation BackupPhase = "FailedValidation"
	PhaseDeleting         BackupPhase = "Deleting"
)

// OwnerKindSchedule is the ownerReference kind Velero sets on backups
// created by a schedule.
const OwnerKindSchedule = "Schedule"

// ScheduleNameLabel is the label Velero stamps on schedule-created backups.
const ScheduleNameLabel = "velero.io/schedule-name"

// OwnerReference points from a backup to the resource that created it
type OwnerReference struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	UID        string `json:"uid,omitempty"`
}

// ObjectMeta carries the subset of Kubernetes object metadata the watchdog reads
type ObjectMeta struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace,omitempty"`
	UID               string            `json:"uid,omitempty"`
	CreationTimestamp string            `json:"creationTimestamp,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	OwnerReferences   []OwnerReference  `json:"ownerReferences,omitempty"`
}

// BackupStatus is the status block of a Velero backup custom resource.
// Timestamps stay strings on the wire so one malformed record cannot fail
// the decode of a whole listing; the classifier parses them per record.
type BackupStatus struct {
	Phase               BackupPhase `json:"phase,omitempty"`
	StartTimestamp      string      `json:"startTimestamp,omitempty"`
	CompletionTimestamp string      `json:"completionTimestamp,omitempty"`
	Expiration          string      `json:"expiration,omitempty"`
	Errors              int         `json:"errors,omitempty"`
	Warnings            int         `json:"warnings,omitempty"`
}

// Backup represents a velero.io/v1 Backup custom resource
type Backup struct {
	APIVersion string       `json:"apiVersion,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	Metadata   ObjectMeta   `json:"metadata"`
	Status     BackupStatus `json:"status,omitempty"`
}

// BackupList represents the list form returned by the apiserver and by
// `velero backup get -o json` when more than one backup matches
type BackupList struct {
	APIVersion string   `json:"apiVersion,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Items      []Backup `json:"items"`
}

// Name returns the backup's object name.
func (b *Backup) Name() string {
	return b.Metadata.Name
}

// ScheduleOwners returns the names of all ownerReferences of kind Schedule,
// in the order they appear.
func (b *Backup) ScheduleOwners() []string {
	var owners []string
	for _, ref := range b.Metadata.OwnerReferences {
		if ref.Kind == OwnerKindSchedule {
			owners = append(owners, ref.Name)
		}
	}
	return owners
}

// ScheduleLabel returns the value of the given schedule label, or "" when unset.
func (b *Backup) ScheduleLabel(key string) string {
	if b.Metadata.Labels == nil {
		return ""
	}
	return b.Metadata.Labels[key]
}
