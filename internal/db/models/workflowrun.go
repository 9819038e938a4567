package models

import (
	"time"
)

// WorkflowRunStatus is the normalized outcome of a CI workflow run.
type WorkflowRunStatus string

const (
	WorkflowRunSuccess   WorkflowRunStatus = "SUCCESS"
	WorkflowRunFailure   WorkflowRunStatus = "FAILURE"
	WorkflowRunPending   WorkflowRunStatus = "PENDING"
	WorkflowRunCancelled WorkflowRunStatus = "CANCELLED"
)

// RepoWorkflowRun is one execution of a CI workflow. Identity is
// (repo, workflow, provider run id), all provider-assigned, so upserts from
// redelivered webhooks or re-fetched pages land on the same row.
type RepoWorkflowRun struct {
	ID            string            `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgRepoID     string            `gorm:"column:org_repo_id;uniqueIndex:idx_run_identity,priority:1;index:idx_run_repo;not null"`
	Workflow      string            `gorm:"column:workflow;uniqueIndex:idx_run_identity,priority:2;not null"`
	ProviderRunID string            `gorm:"column:provider_run_id;uniqueIndex:idx_run_identity,priority:3;not null"`
	Status        WorkflowRunStatus `gorm:"column:status;index:idx_run_status;not null"`
	HeadBranch    string            `gorm:"column:head_branch"`
	HeadSHA       string            `gorm:"column:head_sha;index:idx_run_sha"`
	ConductedAt   time.Time         `gorm:"column:conducted_at;index:idx_run_conducted;not null"`
	DurationSecs  int64             `gorm:"column:duration_secs"`
	HTMLURL       string            `gorm:"column:html_url"`
}

func (RepoWorkflowRun) TableName() string { return "repo_workflow_runs" }
