package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/providers"
	"github.com/devpulse/devpulse/pkg/cache"
)

// stubClient serves canned records; when gate is set, ListPullRequests blocks
// until the gate is closed.
type stubClient struct {
	prs     []providers.PullRequestRecord
	runs    []providers.WorkflowRunRecord
	err     error
	credErr error
	fetches int
	gate    chan struct{}
	entered chan struct{}
}

func (c *stubClient) ValidateCredential(ctx context.Context) error { return c.credErr }

func (c *stubClient) ListPullRequests(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.PullRequestRecord, error) {
	c.fetches++
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	return c.prs, c.err
}

func (c *stubClient) ListWorkflowRuns(ctx context.Context, repo providers.RepoRef, since time.Time) ([]providers.WorkflowRunRecord, error) {
	c.fetches++
	return c.runs, c.err
}

func setupOrchestrator(t *testing.T, client providers.Client) (*Orchestrator, models.Organization) {
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
	org, err := orgs.CreateOrg(&models.Organization{Name: "acme"})
	require.NoError(t, err)
	_, err = orgs.AddRepo(&models.OrgRepo{
		OrgID:          org.ID,
		Provider:       models.ProviderGitHub,
		ExternalRepoID: "1001",
		Name:           "acme/widget",
	})
	require.NoError(t, err)

	prStore := store.NewPullRequestStore(db)
	deployStore := store.NewDeploymentStore(db)
	stores := etl.Stores{
		DB:           db,
		Bookmarks:    store.NewBookmarkStore(db),
		PullRequests: prStore,
		WorkflowRuns: store.NewWorkflowRunStore(db),
		Deployments:  deployStore,
		Incidents:    store.NewIncidentStore(db),
		Settings:     store.NewSettingStore(db),
	}
	registry := etl.NewRegistry(etl.NewHandler(models.ProviderGitHub, client, stores, nil))
	deploy := correlation.NewMergeToDeploy(prStore, deployStore, nil)
	metricsCache := cache.NewLRUCache(16, time.Minute)

	return NewOrchestrator(registry, orgs, deploy, metricsCache, nil), *org
}

func TestSyncOrgRejectsConcurrentPass(t *testing.T) {
	client := &stubClient{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	o, org := setupOrchestrator(t, client)

	done := make(chan error, 1)
	go func() {
		_, err := o.SyncOrg(context.Background(), org.ID, "github")
		done <- err
	}()

	// Wait until the first pass is inside a provider call and holds the lock.
	<-client.entered
	assert.True(t, o.Busy(org.ID))

	_, err := o.SyncOrg(context.Background(), org.ID, "github")
	require.ErrorIs(t, err, ErrOrgSyncInProgress)

	close(client.gate)
	require.NoError(t, <-done)
	assert.False(t, o.Busy(org.ID))

	// The lock releases even after a pass, so a fresh request proceeds.
	_, err = o.SyncOrg(context.Background(), org.ID, "github")
	require.NoError(t, err)
}

func TestSyncOrgIsolatesStageFailures(t *testing.T) {
	client := &stubClient{err: errors.New("boom")}
	o, org := setupOrchestrator(t, client)

	outcome, err := o.SyncOrg(context.Background(), org.ID, "github")
	require.NoError(t, err, "a transient stage failure never fails the pass")
	assert.Equal(t, 1, outcome.ReposSynced)
	assert.Equal(t, 2, outcome.StagesFailed, "code and workflow stages both failed")
}

func TestSyncOrgCredentialCheckRunsBeforeAnyFetch(t *testing.T) {
	client := &stubClient{credErr: providers.ErrInvalidCredential}
	o, org := setupOrchestrator(t, client)

	_, err := o.SyncOrg(context.Background(), org.ID, "github")
	require.ErrorIs(t, err, providers.ErrInvalidCredential)
	assert.Equal(t, 0, client.fetches, "a revoked credential aborts before fetching")
	assert.False(t, o.Busy(org.ID), "lock released on abort")
}

func TestSyncOrgAbortsOnInvalidCredential(t *testing.T) {
	client := &stubClient{err: providers.ErrInvalidCredential}
	o, org := setupOrchestrator(t, client)

	_, err := o.SyncOrg(context.Background(), org.ID, "github")
	require.ErrorIs(t, err, providers.ErrInvalidCredential)
	assert.False(t, o.Busy(org.ID), "lock released on abort")
}

func TestSyncOrgRequiresConfiguredProvider(t *testing.T) {
	o, org := setupOrchestrator(t, &stubClient{})

	_, err := o.SyncOrg(context.Background(), org.ID, "gitlab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler configured")
}

func TestSyncOrgInvalidatesMetricsCache(t *testing.T) {
	o, org := setupOrchestrator(t, &stubClient{})

	o.cache.Set("org:"+org.ID+":/metrics/lead-time?", []byte("stale"))
	o.cache.Set("org:other:/metrics/lead-time?", []byte("kept"))

	_, err := o.SyncOrg(context.Background(), org.ID, "github")
	require.NoError(t, err)

	_, ok := o.cache.Get("org:" + org.ID + ":/metrics/lead-time?")
	assert.False(t, ok, "completed pass drops the org's cached responses")
	_, ok = o.cache.Get("org:other:/metrics/lead-time?")
	assert.True(t, ok)
}

func TestOrgLock(t *testing.T) {
	l := newOrgLock()

	require.NoError(t, l.TryLock("org-1"))
	assert.True(t, l.Busy("org-1"))
	require.ErrorIs(t, l.TryLock("org-1"), ErrOrgSyncInProgress)

	// Other orgs are independent.
	require.NoError(t, l.TryLock("org-2"))

	l.Unlock("org-1")
	assert.False(t, l.Busy("org-1"))
	require.NoError(t, l.TryLock("org-1"))
}
