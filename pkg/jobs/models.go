package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a sync job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// SyncJob is the GORM model for a queued organization sync. One job is one
// processing pass over an organization: delivery is at-least-once, so the
// handler side must be idempotent.
type SyncJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgID          string     `gorm:"column:org_id;index:idx_job_org_state,priority:1;not null"`
	Provider       string     `gorm:"column:provider"` // empty means all providers
	RequestedBy    string     `gorm:"column:requested_by;not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	State          JobState   `gorm:"column:state;index:idx_job_org_state,priority:2;index:idx_job_state;not null;default:queued"`
	Message        string     `gorm:"column:message"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	LastError      string     `gorm:"column:last_error"`
	IdempotencyKey string     `gorm:"column:idempotency_key;uniqueIndex:idx_job_idemp_key"`
	ReposSynced    int        `gorm:"column:repos_synced"`
	StagesFailed   int        `gorm:"column:stages_failed"`
	DurationMs     int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (SyncJob) TableName() string { return "sync_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *SyncJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}
