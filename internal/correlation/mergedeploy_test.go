package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PullRequest{}, &models.Deployment{}))
	return db
}

func mergedPR(repoID string, number int, mergedAt time.Time) models.PullRequest {
	return models.PullRequest{
		ID:             uuid.New().String(),
		OrgRepoID:      repoID,
		Number:         number,
		Author:         "dev",
		State:          models.PullRequestStateMerged,
		BaseBranch:     "main",
		CreatedAt:      mergedAt.Add(-time.Hour),
		StateChangedAt: mergedAt,
		MergedAt:       &mergedAt,
	}
}

func TestMergeToDeploySynthesizesDeployments(t *testing.T) {
	db := setupTestDB(t)
	prs := store.NewPullRequestStore(db)
	deployments := store.NewDeploymentStore(db)

	repo := models.OrgRepo{
		ID:               "repo-1",
		OrgID:            "org-1",
		DeploymentSource: models.DeploymentSourcePRMerge,
	}
	mergedAt := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, prs.UpsertBatch([]models.PullRequest{
		mergedPR("repo-1", 1, mergedAt),
		mergedPR("repo-1", 2, mergedAt.Add(time.Hour)),
	}))

	m := NewMergeToDeploy(prs, deployments, nil)
	n, err := m.Run(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := deployments.ListInInterval([]string{"repo-1"}, mergedAt.Add(-time.Hour), mergedAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.DeploymentSourcePRMerge, rows[0].Source)
	assert.Equal(t, models.DeploymentStatusSuccess, rows[0].Status)
	assert.True(t, rows[0].ConductedAt.Equal(mergedAt))

	// Re-running converges on the same rows.
	n, err = m.Run(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := deployments.CountForRepo("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMergeToDeploySkipsWorkflowRepos(t *testing.T) {
	db := setupTestDB(t)
	prs := store.NewPullRequestStore(db)
	deployments := store.NewDeploymentStore(db)

	mergedAt := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, prs.UpsertBatch([]models.PullRequest{mergedPR("repo-1", 1, mergedAt)}))

	m := NewMergeToDeploy(prs, deployments, nil)
	n, err := m.Run(context.Background(), models.OrgRepo{
		ID: "repo-1", OrgID: "org-1", DeploymentSource: models.DeploymentSourceWorkflow,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := deployments.CountForRepo("repo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
