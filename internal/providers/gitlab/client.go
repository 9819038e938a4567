// Package gitlab implements the provider client against the GitLab REST API,
// covering merge requests and CI pipelines. Merge requests normalize onto the
// same pull-request record shape as GitHub PRs; pipelines normalize onto
// workflow runs.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devpulse/devpulse/internal/providers"
)

// DefaultBaseURL is the gitlab.com API root; self-hosted instances override it.
const DefaultBaseURL = "https://gitlab.com/api/v4"

// pipelineWorkflow is the workflow name assigned to GitLab pipelines, which
// have no per-workflow grouping of their own.
const pipelineWorkflow = "pipeline"

// Client is a thin REST client for the GitLab v4 API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new GitLab client. baseURL may be empty for gitlab.com.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ValidateCredential checks that the token still authorizes API access.
func (c *Client) ValidateCredential(ctx context.Context) error {
	c.logger.Debug("GitLab API: validating credential")
	var user struct {
		ID int `json:"id"`
	}
	_, err := c.getJSON(ctx, "/user", nil, &user)
	return err
}

// mergeRequest is the subset of the GitLab MR payload the sync needs.
type mergeRequest struct {
	ID           int64      `json:"id"`
	IID          int        `json:"iid"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"` // opened, closed, merged, locked
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	Author       struct {
		Username string `json:"username"`
	} `json:"author"`
}

// ListPullRequests fetches merge requests with activity strictly after since.
func (c *Client) ListPullRequests(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.PullRequestRecord, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests", url.PathEscape(repo.ExternalID))
	query := url.Values{
		"state":         {"all"},
		"updated_after": {since.UTC().Format(time.RFC3339)},
		"order_by":      {"updated_at"},
		"sort":          {"asc"},
		"per_page":      {"100"},
	}

	var records []providers.PullRequestRecord
	page := 1
	for {
		query.Set("page", strconv.Itoa(page))
		c.logger.Debug("GitLab API: listing merge requests",
			"project", repo.ExternalID, "page", page)

		var mrs []mergeRequest
		nextPage, err := c.getJSON(ctx, path, query, &mrs)
		if err != nil {
			return nil, err
		}

		for _, mr := range mrs {
			if !mr.UpdatedAt.After(since) {
				continue
			}
			records = append(records, convertMergeRequest(mr))
		}

		if nextPage == 0 {
			break
		}
		page = nextPage
	}

	return records, nil
}

// pipeline is the subset of the GitLab pipeline payload the sync needs.
type pipeline struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"` // success, failed, canceled, pending, running, skipped
	Ref       string    `json:"ref"`
	SHA       string    `json:"sha"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	WebURL    string    `json:"web_url"`
}

// ListWorkflowRuns fetches pipelines updated strictly after since.
func (c *Client) ListWorkflowRuns(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.WorkflowRunRecord, error) {
	path := fmt.Sprintf("/projects/%s/pipelines", url.PathEscape(repo.ExternalID))
	query := url.Values{
		"updated_after": {since.UTC().Format(time.RFC3339)},
		"order_by":      {"updated_at"},
		"sort":          {"asc"},
		"per_page":      {"100"},
	}

	var records []providers.WorkflowRunRecord
	page := 1
	for {
		query.Set("page", strconv.Itoa(page))
		c.logger.Debug("GitLab API: listing pipelines",
			"project", repo.ExternalID, "page", page)

		var pipelines []pipeline
		nextPage, err := c.getJSON(ctx, path, query, &pipelines)
		if err != nil {
			return nil, err
		}

		for _, p := range pipelines {
			records = append(records, providers.WorkflowRunRecord{
				ProviderRunID: strconv.FormatInt(p.ID, 10),
				Workflow:      pipelineWorkflow,
				Conclusion:    p.Status,
				HeadBranch:    p.Ref,
				HeadSHA:       p.SHA,
				StartedAt:     p.CreatedAt,
				CompletedAt:   p.UpdatedAt,
				HTMLURL:       p.WebURL,
			})
		}

		if nextPage == 0 {
			break
		}
		page = nextPage
	}

	return records, nil
}

func convertMergeRequest(mr mergeRequest) providers.PullRequestRecord {
	record := providers.PullRequestRecord{
		ProviderID: strconv.FormatInt(mr.ID, 10),
		Number:     mr.IID,
		Title:      mr.Title,
		Body:       mr.Description,
		Author:     mr.Author.Username,
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		CreatedAt:  mr.CreatedAt,
		UpdatedAt:  mr.UpdatedAt,
		MergedAt:   mr.MergedAt,
		ClosedAt:   mr.ClosedAt,
	}
	switch mr.State {
	case "merged":
		record.State = "merged"
	case "closed":
		record.State = "closed"
	default:
		record.State = "open"
	}
	return record
}

// getJSON performs a GET request and decodes the JSON response into out.
// It returns the next page number from the X-Next-Page header (0 when done).
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: reading response: %v", providers.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: status %d", providers.ErrInvalidCredential, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: status %d", providers.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return 0, fmt.Errorf("gitlab API error: status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}

	nextPage := 0
	if v := resp.Header.Get("X-Next-Page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			nextPage = n
		}
	}
	return nextPage, nil
}
