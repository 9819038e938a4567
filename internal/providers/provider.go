// Package providers defines the contract between the sync pipeline and the
// external source-control / CI APIs, plus the shared error taxonomy. One
// implementation exists per provider; dispatch is by explicit lookup table in
// the etl package, never open-ended.
package providers

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredential means the stored credential no longer authorizes
	// API access. Fatal for the integration's stages in the current run;
	// retrying without a new credential is pointless.
	ErrInvalidCredential = errors.New("provider credential invalid")

	// ErrProviderUnavailable means a rate limit or transient network failure.
	// The caller may retry with backoff or abort the current stage only.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// RepoRef identifies a repository at the provider.
type RepoRef struct {
	// Owner is the org/user/group segment of the repository path.
	Owner string
	// Name is the repository name.
	Name string
	// ExternalID is the provider's numeric/project id, used by providers
	// (GitLab) that address repositories by id rather than path.
	ExternalID string
}

// PullRequestRecord is a raw pull request as fetched from a provider, before
// normalization into the internal entity.
type PullRequestRecord struct {
	ProviderID string
	Number     int
	Title      string
	Body       string
	Author     string
	State      string // "open", "merged", "closed"
	HeadBranch string
	BaseBranch string
	Additions  int
	Deletions  int
	CreatedAt  time.Time
	UpdatedAt  time.Time // provider-side last activity
	MergedAt   *time.Time
	ClosedAt   *time.Time

	// Timeline markers used for lead-time segments; nil when the provider
	// did not return them.
	FirstCommitAt *time.Time
	FirstReviewAt *time.Time
	ApprovedAt    *time.Time
}

// StateChangedAt is the timestamp ordering the record in a sync batch: merge
// or close time for terminal records, last activity otherwise.
func (r *PullRequestRecord) StateChangedAt() time.Time {
	switch {
	case r.MergedAt != nil:
		return *r.MergedAt
	case r.ClosedAt != nil:
		return *r.ClosedAt
	default:
		return r.UpdatedAt
	}
}

// WorkflowRunRecord is a raw CI run as fetched from a provider.
type WorkflowRunRecord struct {
	ProviderRunID string
	Workflow      string
	Conclusion    string // provider-specific; normalized by the ETL handler
	HeadBranch    string
	HeadSHA       string
	StartedAt     time.Time
	CompletedAt   time.Time
	HTMLURL       string
}

// IncidentRecord is a raw incident pushed by an external incident service.
// Incidents arrive over the webhook path only; no provider is polled for them.
type IncidentRecord struct {
	ProviderKey string // the incident service's own identifier
	Title       string
	Assignees   []string
	CreatedAt   time.Time
	AckedAt     *time.Time
	ResolvedAt  *time.Time
}

// Client is the per-provider fetch contract. Implementations paginate
// transparently and never silently drop records: a rate limit or transient
// failure surfaces as ErrProviderUnavailable with nothing persisted from the
// failed call.
type Client interface {
	// ValidateCredential verifies the stored credential still authorizes API
	// access. Side-effect-free. Returns ErrInvalidCredential on auth failure,
	// ErrProviderUnavailable on transient failure.
	ValidateCredential(ctx context.Context) error

	// ListPullRequests fetches pull requests with provider-side activity
	// strictly after since.
	ListPullRequests(ctx context.Context, repo RepoRef, since time.Time) ([]PullRequestRecord, error)

	// ListWorkflowRuns fetches CI runs created strictly after since.
	ListWorkflowRuns(ctx context.Context, repo RepoRef, since time.Time) ([]WorkflowRunRecord, error)
}
