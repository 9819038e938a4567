package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/metrics"
	"github.com/devpulse/devpulse/internal/providers"
	devsync "github.com/devpulse/devpulse/internal/sync"
	"github.com/devpulse/devpulse/pkg/cache"
	"github.com/devpulse/devpulse/pkg/jobs"
)

const testAPIKey = "test-webhook-key"

type noopClient struct{}

func (noopClient) ValidateCredential(ctx context.Context) error { return nil }
func (noopClient) ListPullRequests(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.PullRequestRecord, error) {
	return nil, nil
}
func (noopClient) ListWorkflowRuns(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.WorkflowRunRecord, error) {
	return nil, nil
}

type testEnv struct {
	router chi.Router
	orgs   *store.OrgStore
	jobs   *jobs.JobStore
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Organization{},
		&models.OrgRepo{},
		&models.Bookmark{},
		&models.PullRequest{},
		&models.PullRequestRevertMapping{},
		&models.RepoWorkflowRun{},
		&models.Deployment{},
		&models.Incident{},
		&models.Setting{},
	))

	orgs := store.NewOrgStore(db)
	prStore := store.NewPullRequestStore(db)
	deployStore := store.NewDeploymentStore(db)
	incidentStore := store.NewIncidentStore(db)
	stores := etl.Stores{
		DB:           db,
		Bookmarks:    store.NewBookmarkStore(db),
		PullRequests: prStore,
		WorkflowRuns: store.NewWorkflowRunStore(db),
		Deployments:  deployStore,
		Incidents:    incidentStore,
		Settings:     store.NewSettingStore(db),
	}
	registry := etl.NewRegistry(etl.NewHandler(models.ProviderGitHub, noopClient{}, stores, nil))

	jobStore := jobs.NewJobStore(db)
	require.NoError(t, jobStore.AutoMigrate())

	metricsCache := cache.NewLRUCache(64, time.Minute)
	orchestrator := devsync.NewOrchestrator(registry, orgs,
		correlation.NewMergeToDeploy(prStore, deployStore, nil), metricsCache, nil)

	server := NewServer(ServerDeps{
		DB:            db,
		Orgs:          orgs,
		Bookmarks:     stores.Bookmarks,
		Settings:      stores.Settings,
		Jobs:          jobStore,
		Registry:      registry,
		Orchestrator:  orchestrator,
		Metrics:       metrics.NewService(prStore, deployStore, incidentStore, nil),
		Cache:         metricsCache,
		WebhookAPIKey: testAPIKey,
	})

	return &testEnv{router: server.Router(), orgs: orgs, jobs: jobStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) createOrgAndRepo(t *testing.T) (models.Organization, models.OrgRepo) {
	t.Helper()
	org, err := e.orgs.CreateOrg(&models.Organization{Name: "acme"})
	require.NoError(t, err)
	repo, err := e.orgs.AddRepo(&models.OrgRepo{
		OrgID:          org.ID,
		Provider:       models.ProviderGitHub,
		ExternalRepoID: "1001",
		Name:           "acme/widget",
	})
	require.NoError(t, err)
	return *org, *repo
}

func TestHealthEndpoints(t *testing.T) {
	e := setupServer(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/livez", nil, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", nil, nil).Code)
}

func TestOrgLifecycle(t *testing.T) {
	e := setupServer(t)

	w := e.do(t, http.MethodPost, "/api/v1/organizations", map[string]string{"name": "acme"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	org := decode[models.Organization](t, w)
	assert.NotEmpty(t, org.ID)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/no-such-org", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Duplicate name is rejected.
	w = e.do(t, http.MethodPost, "/api/v1/organizations", map[string]string{"name": "acme"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/repos", map[string]string{
		"name":           "acme/widget",
		"provider":       "github",
		"externalRepoId": "1001",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	repo := decode[models.OrgRepo](t, w)
	assert.True(t, repo.SyncEnabled)
	assert.Equal(t, models.DeploymentSourceWorkflow, repo.DeploymentSource)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/repos", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	enabled := false
	w = e.do(t, http.MethodPatch, "/api/v1/repos/"+repo.ID+"/sync-enabled",
		map[string]any{"enabled": enabled}, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSettingEndpoints(t *testing.T) {
	e := setupServer(t)
	org, _ := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/settings/sync_window", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	window := decode[store.SyncWindowSetting](t, w)
	assert.Equal(t, store.DefaultSyncWindow.Days, window.Days)

	w = e.do(t, http.MethodPut, "/api/v1/organizations/"+org.ID+"/settings/sync_window",
		map[string]int{"days": 14}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/settings/sync_window", nil, nil)
	window = decode[store.SyncWindowSetting](t, w)
	assert.Equal(t, 14, window.Days)

	w = e.do(t, http.MethodPut, "/api/v1/organizations/"+org.ID+"/settings/sync_window",
		map[string]int{"days": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/settings/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSync(t *testing.T) {
	e := setupServer(t)
	org, _ := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/sync",
		map[string]string{"provider": "github"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decode[jobs.SyncJob](t, w)
	assert.Equal(t, jobs.JobStateQueued, job.State)

	// The idempotency key holds while the job is queued.
	w = e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/sync",
		map[string]string{"provider": "github"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	dup := decode[jobs.SyncJob](t, w)
	assert.Equal(t, job.ID, dup.ID)

	w = e.do(t, http.MethodPost, "/api/v1/organizations/no-such-org/sync",
		map[string]string{"provider": "github"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/sync",
		map[string]string{"provider": "bitbucket"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// gitlab is a known provider but has no handler configured here.
	w = e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/sync",
		map[string]string{"provider": "gitlab"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobEndpoints(t *testing.T) {
	e := setupServer(t)
	org, _ := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/sync",
		map[string]string{"provider": "github"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decode[jobs.SyncJob](t, w)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/jobs", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	canceled := decode[jobs.SyncJob](t, w)
	assert.Equal(t, jobs.JobStateCanceled, canceled.State)

	// Canceling twice conflicts: the job is no longer queued.
	w = e.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func webhookPath(org models.Organization, repo models.OrgRepo) string {
	return fmt.Sprintf("/api/v1/organizations/%s/repos/%s/events", org.ID, repo.ID)
}

func TestWebhookRequiresAPIKey(t *testing.T) {
	e := setupServer(t)
	org, repo := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodPost, webhookPath(org, repo), map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, webhookPath(org, repo), map[string]any{},
		map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookIngest(t *testing.T) {
	e := setupServer(t)
	org, repo := e.createOrgAndRepo(t)

	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"pullRequests": []providers.PullRequestRecord{{
			ProviderID: "pr-1",
			Number:     1,
			Title:      "pushed change",
			State:      "merged",
			CreatedAt:  merged.Add(-time.Hour),
			UpdatedAt:  merged,
			MergedAt:   &merged,
		}},
		"incidents": []providers.IncidentRecord{{
			ProviderKey: "pd-123",
			Title:       "checkout latency",
			CreatedAt:   merged.Add(time.Hour),
		}},
	}

	w := e.do(t, http.MethodPost, webhookPath(org, repo), payload,
		map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]int](t, w)
	assert.Equal(t, 2, body["persisted"])
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	e := setupServer(t)
	org, repo := e.createOrgAndRepo(t)

	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	records := make([]providers.PullRequestRecord, etl.MaxPayloadRecords+1)
	for i := range records {
		records[i] = providers.PullRequestRecord{
			Number:    i + 1,
			CreatedAt: merged,
			UpdatedAt: merged,
		}
	}

	w := e.do(t, http.MethodPost, webhookPath(org, repo),
		map[string]any{"pullRequests": records},
		map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhookRejectsInvalidRecord(t *testing.T) {
	e := setupServer(t)
	org, repo := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodPost, webhookPath(org, repo),
		map[string]any{"pullRequests": []map[string]any{{"number": 0}}},
		map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookUnknownRepo(t *testing.T) {
	e := setupServer(t)
	org, _ := e.createOrgAndRepo(t)

	w := e.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/organizations/%s/repos/no-such-repo/events", org.ID),
		map[string]any{}, map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpointsAndCache(t *testing.T) {
	e := setupServer(t)
	org, _ := e.createOrgAndRepo(t)

	path := "/api/v1/organizations/" + org.ID + "/metrics/lead-time"
	w := e.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))

	w = e.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get("X-Cache"))

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/metrics/deployments?bucket=daily", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/metrics/deployments?bucket=hourly", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/metrics/recovery", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/metrics/lead-time?from=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/metrics/lead-time?repo=unknown", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
