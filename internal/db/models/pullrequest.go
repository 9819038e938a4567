package models

import (
	"time"
)

// PullRequestState is the lifecycle state of a pull request.
type PullRequestState string

const (
	PullRequestStateOpen   PullRequestState = "OPEN"
	PullRequestStateMerged PullRequestState = "MERGED"
	PullRequestStateClosed PullRequestState = "CLOSED"
)

// IsTerminal returns true once a pull request can no longer change state.
func (s PullRequestState) IsTerminal() bool {
	return s == PullRequestStateMerged || s == PullRequestStateClosed
}

// PullRequest is a normalized pull request. Identity is (repo, provider PR
// number): rows are created on first sync observation and upserted on later
// syncs while the state is non-terminal.
//
// The lead-time segment columns are computed at normalization time from the
// provider's commit and review timeline; they are nullable because a pull
// request with an incomplete lifecycle contributes nothing to averages.
type PullRequest struct {
	ID             string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgRepoID      string           `gorm:"column:org_repo_id;uniqueIndex:idx_pr_identity,priority:1;index:idx_pr_repo;not null"`
	Number         int              `gorm:"column:number;uniqueIndex:idx_pr_identity,priority:2;not null"`
	ProviderPRID   string           `gorm:"column:provider_pr_id"`
	Title          string           `gorm:"column:title"`
	Body           string           `gorm:"column:body"`
	Author         string           `gorm:"column:author;index:idx_pr_author"`
	State          PullRequestState `gorm:"column:state;index:idx_pr_state;not null"`
	HeadBranch     string           `gorm:"column:head_branch"`
	BaseBranch     string           `gorm:"column:base_branch"`
	Additions      int              `gorm:"column:additions"`
	Deletions      int              `gorm:"column:deletions"`
	CreatedAt      time.Time        `gorm:"column:created_at;not null"`
	StateChangedAt time.Time        `gorm:"column:state_changed_at;index:idx_pr_state_changed;not null"`
	MergedAt       *time.Time       `gorm:"column:merged_at"`
	ClosedAt       *time.Time       `gorm:"column:closed_at"`

	// Lead-time segments, in seconds.
	FirstCommitToOpenSecs *int64 `gorm:"column:first_commit_to_open_secs"`
	FirstResponseSecs     *int64 `gorm:"column:first_response_secs"`
	ReworkSecs            *int64 `gorm:"column:rework_secs"`
	MergeSecs             *int64 `gorm:"column:merge_secs"`
}

func (PullRequest) TableName() string { return "pull_requests" }

// PullRequestRevertMapping is the derived edge between a revert pull request
// and the pull request it reverts. It is computed, never fetched, and keyed by
// the (revert, original) pair so recomputation is idempotent.
type PullRequestRevertMapping struct {
	RevertPRID   string    `gorm:"primaryKey;column:revert_pr_id;type:varchar(36)"`
	OriginalPRID string    `gorm:"primaryKey;column:original_pr_id;type:varchar(36)"`
	OrgRepoID    string    `gorm:"column:org_repo_id;index:idx_revert_repo;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (PullRequestRevertMapping) TableName() string { return "pull_request_revert_mappings" }
