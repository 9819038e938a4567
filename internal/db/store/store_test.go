package store

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/db/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	return db
}

// newTestRepo creates an org and one tracked repo for store tests.
func newTestRepo(t *testing.T, db *gorm.DB) models.OrgRepo {
	t.Helper()
	orgs := NewOrgStore(db)
	org, err := orgs.CreateOrg(&models.Organization{Name: "acme-" + uuid.New().String()[:8]})
	require.NoError(t, err)
	repo, err := orgs.AddRepo(&models.OrgRepo{
		OrgID:          org.ID,
		Provider:       models.ProviderGitHub,
		ExternalRepoID: uuid.New().String(),
		Name:           "acme/widget",
	})
	require.NoError(t, err)
	return *repo
}

func newTestPR(repoID string, number int, state models.PullRequestState, stateChanged time.Time) models.PullRequest {
	pr := models.PullRequest{
		OrgRepoID:      repoID,
		Number:         number,
		Title:          "change things",
		Author:         "dev",
		State:          state,
		CreatedAt:      stateChanged.Add(-24 * time.Hour),
		StateChangedAt: stateChanged,
	}
	if state == models.PullRequestStateMerged {
		merged := stateChanged
		pr.MergedAt = &merged
	}
	if state == models.PullRequestStateClosed {
		closed := stateChanged
		pr.ClosedAt = &closed
	}
	return pr
}
