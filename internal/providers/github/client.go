// Package github implements the provider client against the GitHub REST API,
// covering pull requests and GitHub Actions workflow runs.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/devpulse/devpulse/internal/providers"
)

// perPage is the page size for all list calls.
const perPage = 100

// Client wraps the GitHub API client with token authentication.
type Client struct {
	client *github.Client
	logger *slog.Logger
}

// NewClient creates a new GitHub client with token authentication.
func NewClient(ctx context.Context, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = 30 * time.Second

	return &Client{
		client: github.NewClient(tc),
		logger: logger,
	}
}

// ValidateCredential checks that the token still authorizes API access.
func (c *Client) ValidateCredential(ctx context.Context) error {
	c.logger.Debug("GitHub API: validating credential")
	_, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// ListPullRequests fetches pull requests with provider-side activity strictly
// after since. GitHub lists by updated time descending, so pagination stops at
// the first record at or before the cursor.
func (c *Client) ListPullRequests(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.PullRequestRecord, error) {
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	var records []providers.PullRequestRecord
	for {
		c.logger.Debug("GitHub API: listing pull requests",
			"owner", repo.Owner, "repo", repo.Name, "page", opts.Page)
		prs, resp, err := c.client.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, classifyError(err)
		}

		done := false
		for _, pr := range prs {
			if !pr.GetUpdatedAt().Time.After(since) {
				done = true
				break
			}
			records = append(records, convertPullRequest(pr))
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	// Hydrate timeline markers for lead-time segments.
	for i := range records {
		if err := c.hydrateTimeline(ctx, repo, &records[i]); err != nil {
			// A single record's enrichment failure leaves its markers nil;
			// the record itself still syncs.
			c.logger.Warn("failed to hydrate PR timeline",
				"owner", repo.Owner, "repo", repo.Name,
				"pr", records[i].Number, "error", err)
			if errors.Is(err, providers.ErrInvalidCredential) {
				return nil, err
			}
		}
	}

	return records, nil
}

// ListWorkflowRuns fetches workflow runs created strictly after since.
func (c *Client) ListWorkflowRuns(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.WorkflowRunRecord, error) {
	opts := &github.ListWorkflowRunsOptions{
		Created: ">" + since.UTC().Format(time.RFC3339),
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	var records []providers.WorkflowRunRecord
	for {
		c.logger.Debug("GitHub API: listing workflow runs",
			"owner", repo.Owner, "repo", repo.Name, "page", opts.Page)
		runs, resp, err := c.client.Actions.ListRepositoryWorkflowRuns(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, classifyError(err)
		}

		for _, run := range runs.WorkflowRuns {
			records = append(records, convertWorkflowRun(run))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return records, nil
}

// hydrateTimeline fills the first-commit and review markers for one PR.
func (c *Client) hydrateTimeline(ctx context.Context, repo providers.RepoRef, record *providers.PullRequestRecord) error {
	commits, _, err := c.client.PullRequests.ListCommits(ctx, repo.Owner, repo.Name, record.Number,
		&github.ListOptions{PerPage: 1})
	if err != nil {
		return classifyError(err)
	}
	if len(commits) > 0 {
		if commit := commits[0].GetCommit(); commit != nil {
			t := commit.GetCommitter().GetDate().Time
			if !t.IsZero() {
				record.FirstCommitAt = &t
			}
		}
	}

	reviews, _, err := c.client.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, record.Number,
		&github.ListOptions{PerPage: perPage})
	if err != nil {
		return classifyError(err)
	}
	for _, review := range reviews {
		submitted := review.GetSubmittedAt().Time
		if submitted.IsZero() {
			continue
		}
		if record.FirstReviewAt == nil || submitted.Before(*record.FirstReviewAt) {
			t := submitted
			record.FirstReviewAt = &t
		}
		if review.GetState() == "APPROVED" {
			if record.ApprovedAt == nil || submitted.Before(*record.ApprovedAt) {
				t := submitted
				record.ApprovedAt = &t
			}
		}
	}

	return nil
}

func convertPullRequest(pr *github.PullRequest) providers.PullRequestRecord {
	record := providers.PullRequestRecord{
		ProviderID: strconv.FormatInt(pr.GetID(), 10),
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		Author:     pr.GetUser().GetLogin(),
		State:      pr.GetState(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		Additions:  pr.GetAdditions(),
		Deletions:  pr.GetDeletions(),
		CreatedAt:  pr.GetCreatedAt().Time,
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
	if !pr.GetMergedAt().Time.IsZero() {
		t := pr.GetMergedAt().Time
		record.MergedAt = &t
		record.State = "merged"
	}
	if !pr.GetClosedAt().Time.IsZero() {
		t := pr.GetClosedAt().Time
		record.ClosedAt = &t
	}
	return record
}

func convertWorkflowRun(run *github.WorkflowRun) providers.WorkflowRunRecord {
	record := providers.WorkflowRunRecord{
		ProviderRunID: strconv.FormatInt(run.GetID(), 10),
		Workflow:      run.GetName(),
		Conclusion:    run.GetConclusion(),
		HeadBranch:    run.GetHeadBranch(),
		HeadSHA:       run.GetHeadSHA(),
		StartedAt:     run.GetRunStartedAt().Time,
		HTMLURL:       run.GetHTMLURL(),
	}
	if record.Conclusion == "" {
		record.Conclusion = run.GetStatus() // queued / in_progress
	}
	if !run.GetUpdatedAt().Time.IsZero() {
		record.CompletedAt = run.GetUpdatedAt().Time
	}
	return record
}

// classifyError maps GitHub API failures onto the shared taxonomy.
func classifyError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: rate limited until %s", providers.ErrProviderUnavailable, rateErr.Rate.Reset.Time)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: secondary rate limit", providers.ErrProviderUnavailable)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", providers.ErrInvalidCredential, respErr.Message)
		}
		if respErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", providers.ErrProviderUnavailable, respErr.Response.StatusCode)
		}
		return err
	}
	// Network-level failure.
	return fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
}
