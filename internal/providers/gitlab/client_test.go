package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse/devpulse/internal/providers"
)

func testRepo() providers.RepoRef {
	return providers.RepoRef{Owner: "acme", Name: "widget", ExternalID: "1001"}
}

func TestListPullRequestsPaginates(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/1001/merge_requests", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))

		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			w.Header().Set("X-Next-Page", "2")
			fmt.Fprint(w, `[{
				"id": 500, "iid": 7, "title": "first change",
				"state": "merged", "source_branch": "feat", "target_branch": "main",
				"created_at": "2026-03-01T09:00:00Z",
				"updated_at": "2026-03-01T12:00:00Z",
				"merged_at": "2026-03-01T12:00:00Z",
				"author": {"username": "dev"}
			}]`)
		default:
			fmt.Fprint(w, `[{
				"id": 501, "iid": 8, "title": "second change",
				"state": "opened", "source_branch": "fix", "target_branch": "main",
				"created_at": "2026-03-02T09:00:00Z",
				"updated_at": "2026-03-02T10:00:00Z",
				"author": {"username": "dev"}
			}]`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	records, err := c.ListPullRequests(context.Background(), testRepo(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "2"}, pages)

	assert.Equal(t, "500", records[0].ProviderID)
	assert.Equal(t, 7, records[0].Number)
	assert.Equal(t, "merged", records[0].State)
	assert.Equal(t, "dev", records[0].Author)
	require.NotNil(t, records[0].MergedAt)
	assert.Equal(t, "open", records[1].State)
}

func TestListPullRequestsFiltersBySince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"id": 500, "iid": 7, "title": "stale change", "state": "opened",
			"created_at": "2026-01-01T09:00:00Z",
			"updated_at": "2026-01-02T09:00:00Z",
			"author": {"username": "dev"}
		}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	records, err := c.ListPullRequests(context.Background(), testRepo(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, records, "records at or before since are dropped")
}

func TestListWorkflowRunsConvertsPipelines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/1001/pipelines", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"id": 9001, "status": "failed", "ref": "main", "sha": "abc123",
			"created_at": "2026-03-02T10:00:00Z",
			"updated_at": "2026-03-02T10:05:00Z",
			"web_url": "https://gitlab.example.com/acme/widget/-/pipelines/9001"
		}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	records, err := c.ListWorkflowRuns(context.Background(), testRepo(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "9001", records[0].ProviderRunID)
	assert.Equal(t, "pipeline", records[0].Workflow)
	assert.Equal(t, "failed", records[0].Conclusion)
	assert.Equal(t, "main", records[0].HeadBranch)
	assert.Equal(t, "abc123", records[0].HeadSHA)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, providers.ErrInvalidCredential},
		{"forbidden", http.StatusForbidden, providers.ErrInvalidCredential},
		{"rate limited", http.StatusTooManyRequests, providers.ErrProviderUnavailable},
		{"server error", http.StatusBadGateway, providers.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "secret", nil)
			_, err := c.ListPullRequests(context.Background(), testRepo(), time.Now().Add(-time.Hour))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 1}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	require.NoError(t, c.ValidateCredential(context.Background()))
}
