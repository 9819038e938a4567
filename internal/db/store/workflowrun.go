package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpulse/devpulse/internal/db/models"
)

// WorkflowRunStore provides database operations for CI workflow runs.
type WorkflowRunStore struct {
	db *gorm.DB
}

// NewWorkflowRunStore creates a new WorkflowRunStore.
func NewWorkflowRunStore(db *gorm.DB) *WorkflowRunStore {
	return &WorkflowRunStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *WorkflowRunStore) WithTx(tx *gorm.DB) *WorkflowRunStore {
	return &WorkflowRunStore{db: tx}
}

// UpsertBatch persists a batch of workflow runs. Conflicts on the
// (repo, workflow, provider run id) identity update status and timing, so a
// PENDING run observed again after completion settles into its final state.
func (s *WorkflowRunStore) UpsertBatch(runs []models.RepoWorkflowRun) error {
	if len(runs) == 0 {
		return nil
	}

	for i := range runs {
		if runs[i].ID == "" {
			runs[i].ID = uuid.New().String()
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_repo_id"}, {Name: "workflow"}, {Name: "provider_run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "head_branch", "head_sha", "conducted_at", "duration_secs", "html_url",
		}),
	}).Create(&runs).Error
	if err != nil {
		return fmt.Errorf("upsert workflow runs: %w", err)
	}
	return nil
}

// ListInInterval returns runs for a set of repos conducted inside [from, to),
// ordered by conducted time.
func (s *WorkflowRunStore) ListInInterval(repoIDs []string, from, to time.Time) ([]models.RepoWorkflowRun, error) {
	var runs []models.RepoWorkflowRun
	err := s.db.Where("org_repo_id IN ? AND conducted_at >= ? AND conducted_at < ?", repoIDs, from, to).
		Order("conducted_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	return runs, nil
}

// CountForRepo returns the number of persisted runs in a repo.
func (s *WorkflowRunStore) CountForRepo(repoID string) (int64, error) {
	var count int64
	if err := s.db.Model(&models.RepoWorkflowRun{}).Where("org_repo_id = ?", repoID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count workflow runs: %w", err)
	}
	return count, nil
}
