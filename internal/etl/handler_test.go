package etl

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/providers"
)

// fakeClient serves canned records and captures the since argument of each
// fetch.
type fakeClient struct {
	prs      []providers.PullRequestRecord
	runs     []providers.WorkflowRunRecord
	prSince  []time.Time
	runSince []time.Time
	credErr  error
	fetchErr error
}

func (f *fakeClient) ValidateCredential(ctx context.Context) error { return f.credErr }

func (f *fakeClient) ListPullRequests(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.PullRequestRecord, error) {
	f.prSince = append(f.prSince, since)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.prs, nil
}

func (f *fakeClient) ListWorkflowRuns(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.WorkflowRunRecord, error) {
	f.runSince = append(f.runSince, since)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.runs, nil
}

func setupHandler(t *testing.T, client providers.Client) (*Handler, Stores, models.OrgRepo) {
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

	stores := Stores{
		DB:           db,
		Bookmarks:    store.NewBookmarkStore(db),
		PullRequests: store.NewPullRequestStore(db),
		WorkflowRuns: store.NewWorkflowRunStore(db),
		Deployments:  store.NewDeploymentStore(db),
		Incidents:    store.NewIncidentStore(db),
		Settings:     store.NewSettingStore(db),
	}

	orgs := store.NewOrgStore(db)
	org, err := orgs.CreateOrg(&models.Organization{Name: "acme"})
	require.NoError(t, err)
	repo, err := orgs.AddRepo(&models.OrgRepo{
		OrgID:            org.ID,
		Provider:         models.ProviderGitHub,
		ExternalRepoID:   "1001",
		Name:             "acme/widget",
		DeploymentSource: models.DeploymentSourceWorkflow,
	})
	require.NoError(t, err)

	h := NewHandler(models.ProviderGitHub, client, stores, nil)
	return h, stores, *repo
}

func prRecord(number int, title string, mergedAt *time.Time, updated time.Time) providers.PullRequestRecord {
	state := "open"
	if mergedAt != nil {
		state = "merged"
	}
	return providers.PullRequestRecord{
		ProviderID: "pr-" + title,
		Number:     number,
		Title:      title,
		Author:     "dev",
		State:      state,
		BaseBranch: "main",
		CreatedAt:  updated.Add(-12 * time.Hour),
		UpdatedAt:  updated,
		MergedAt:   mergedAt,
	}
}

func TestSyncPullRequestsAdvancesBookmark(t *testing.T) {
	mergedA := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mergedB := mergedA.Add(3 * time.Hour)
	client := &fakeClient{prs: []providers.PullRequestRecord{
		prRecord(2, "later change", &mergedB, mergedB),
		prRecord(1, "earlier change", &mergedA, mergedA),
	}}
	h, stores, repo := setupHandler(t, client)

	n, err := h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := stores.Bookmarks.Read(repo.OrgID, repo.ID, models.BookmarkKindPullRequest)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.CursorTime().Equal(mergedB), "cursor is the newest activity in the batch")

	// Replaying the same records lands on the same rows and moves nothing.
	n, err = h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSyncPullRequestsUsesBookmarkAsLowerBound(t *testing.T) {
	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{prs: []providers.PullRequestRecord{prRecord(1, "change", &merged, merged)}}
	h, _, repo := setupHandler(t, client)

	_, err := h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)
	_, err = h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)

	require.Len(t, client.prSince, 2)
	// First sync reaches back by the default window; the second starts at the
	// committed cursor.
	assert.True(t, client.prSince[0].Before(merged))
	assert.True(t, client.prSince[1].Equal(merged))
}

func TestSyncPullRequestsSkipsMalformedRecords(t *testing.T) {
	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	bad := prRecord(0, "no number", nil, merged.Add(time.Hour))
	client := &fakeClient{prs: []providers.PullRequestRecord{
		prRecord(1, "good", &merged, merged),
		bad,
	}}
	h, stores, repo := setupHandler(t, client)

	n, err := h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "malformed record skipped, batch kept")

	count, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncPullRequestsDerivesRevertIncidents(t *testing.T) {
	originalMerged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	revertMerged := originalMerged.Add(5 * time.Hour)
	client := &fakeClient{prs: []providers.PullRequestRecord{
		prRecord(40, "add caching layer", &originalMerged, originalMerged),
		prRecord(42, "Revert \"add caching layer\" (#40)", &revertMerged, revertMerged),
	}}
	h, stores, repo := setupHandler(t, client)

	_, err := h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)

	mappings, err := stores.PullRequests.ListRevertMappings(repo.ID)
	require.NoError(t, err)
	require.Len(t, mappings, 1)

	n, err := h.SyncIncidents(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	incidents, err := stores.Incidents.ListInInterval(repo.OrgID, originalMerged.Add(-time.Hour), revertMerged.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, models.IncidentTypeRevertPR, inc.Type)
	assert.Equal(t, models.IncidentStatusResolved, inc.Status)
	assert.True(t, inc.CreationAt.Equal(originalMerged))
	require.NotNil(t, inc.ResolvedAt)
	assert.True(t, inc.ResolvedAt.Equal(revertMerged))

	// Recomputation converges on the same incident row.
	_, err = h.SyncIncidents(context.Background(), repo)
	require.NoError(t, err)
	n2, err := stores.Incidents.CountForOrg(repo.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n2)
}

func TestSyncIncidentsRespectsSourceSetting(t *testing.T) {
	client := &fakeClient{}
	h, stores, repo := setupHandler(t, client)

	require.NoError(t, stores.Settings.Set(repo.OrgID, models.SettingEntityOrg,
		models.SettingTypeIncidents, store.IncidentSourcesSetting{RevertPRs: false}))

	n, err := h.SyncIncidents(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func runRecord(id, conclusion string, started time.Time) providers.WorkflowRunRecord {
	return providers.WorkflowRunRecord{
		ProviderRunID: id,
		Workflow:      "deploy",
		Conclusion:    conclusion,
		HeadBranch:    "main",
		StartedAt:     started,
		CompletedAt:   started.Add(4 * time.Minute),
	}
}

func TestSyncWorkflowRunsMaterializesDeployments(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{runs: []providers.WorkflowRunRecord{
		runRecord("r1", "success", base),
		runRecord("r2", "failure", base.Add(time.Hour)),
		runRecord("r3", "cancelled", base.Add(2*time.Hour)),
	}}
	h, stores, repo := setupHandler(t, client)

	n, err := h.SyncWorkflowRuns(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Cancelled runs are persisted but never become deployments.
	deployments, err := stores.Deployments.ListInInterval([]string{repo.ID}, base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, deployments, 2)
	assert.Equal(t, models.DeploymentStatusSuccess, deployments[0].Status)
	assert.Equal(t, models.DeploymentStatusFailure, deployments[1].Status)

	runs, err := stores.WorkflowRuns.ListInInterval([]string{repo.ID}, base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	byEntity := map[string]bool{}
	for _, run := range runs {
		byEntity[run.ID] = true
	}
	for _, d := range deployments {
		assert.True(t, byEntity[d.EntityID], "deployment references a persisted run row")
		assert.Equal(t, models.DeploymentID(d.Source, d.EntityID), d.ID)
	}

	// A second pass over the same records changes nothing.
	_, err = h.SyncWorkflowRuns(context.Background(), repo)
	require.NoError(t, err)
	count, err := stores.Deployments.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	b, err := stores.Bookmarks.Read(repo.OrgID, repo.ID, models.BookmarkKindWorkflowRun)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.CursorTime().Equal(base.Add(2*time.Hour)))
}

func TestSyncWorkflowRunsSkipsDeploymentsForPRMergeRepos(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{runs: []providers.WorkflowRunRecord{runRecord("r1", "success", base)}}
	h, stores, repo := setupHandler(t, client)

	repo.DeploymentSource = models.DeploymentSourcePRMerge
	n, err := h.SyncWorkflowRuns(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := stores.Deployments.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
