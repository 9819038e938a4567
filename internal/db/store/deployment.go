package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpulse/devpulse/internal/db/models"
)

// DeploymentStore provides database operations for unified deployments.
type DeploymentStore struct {
	db *gorm.DB
}

// NewDeploymentStore creates a new DeploymentStore.
func NewDeploymentStore(db *gorm.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *DeploymentStore) WithTx(tx *gorm.DB) *DeploymentStore {
	return &DeploymentStore{db: tx}
}

// UpsertBatch persists deployments. IDs are derived from the (source, entity)
// composite, so two writers synthesizing the same deployment converge on one
// row; conflicts update status and timing only.
func (s *DeploymentStore) UpsertBatch(deployments []models.Deployment) error {
	if len(deployments) == 0 {
		return nil
	}

	for i := range deployments {
		if deployments[i].ID == "" {
			deployments[i].ID = models.DeploymentID(deployments[i].Source, deployments[i].EntityID)
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "conducted_at", "duration_secs"}),
	}).Create(&deployments).Error
	if err != nil {
		return fmt.Errorf("upsert deployments: %w", err)
	}
	return nil
}

// ListInInterval returns deployments for a set of repos conducted inside
// [from, to), ordered by conducted time.
func (s *DeploymentStore) ListInInterval(repoIDs []string, from, to time.Time) ([]models.Deployment, error) {
	var deployments []models.Deployment
	err := s.db.Where("org_repo_id IN ? AND conducted_at >= ? AND conducted_at < ?", repoIDs, from, to).
		Order("conducted_at ASC").
		Find(&deployments).Error
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return deployments, nil
}

// FirstAfter returns the earliest deployment in a repo conducted at or after
// the given time, or nil when none exists. Used to correlate a PR merge with
// the deployment that shipped it.
func (s *DeploymentStore) FirstAfter(repoID string, t time.Time) (*models.Deployment, error) {
	var d models.Deployment
	err := s.db.Where("org_repo_id = ? AND conducted_at >= ? AND status = ?",
		repoID, t, models.DeploymentStatusSuccess).
		Order("conducted_at ASC").
		First(&d).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("first deployment after: %w", err)
	}
	return &d, nil
}

// CountForRepo returns the number of persisted deployments in a repo.
func (s *DeploymentStore) CountForRepo(repoID string) (int64, error) {
	var count int64
	if err := s.db.Model(&models.Deployment{}).Where("org_repo_id = ?", repoID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count deployments: %w", err)
	}
	return count, nil
}
