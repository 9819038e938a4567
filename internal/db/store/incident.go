package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpulse/devpulse/internal/db/models"
)

// IncidentStore provides database operations for incidents, both fetched and
// revert-PR-derived.
type IncidentStore struct {
	db *gorm.DB
}

// NewIncidentStore creates a new IncidentStore.
func NewIncidentStore(db *gorm.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *IncidentStore) WithTx(tx *gorm.DB) *IncidentStore {
	return &IncidentStore{db: tx}
}

// UpsertBatch persists incidents keyed by provider key. Conflicts update the
// lifecycle columns, so a later sync observing a resolution fills in
// resolved_at on the existing row.
func (s *IncidentStore) UpsertBatch(incidents []models.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	for i := range incidents {
		if incidents[i].ID == "" {
			incidents[i].ID = uuid.New().String()
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "status", "assignees", "acked_at", "resolved_at"}),
	}).Create(&incidents).Error
	if err != nil {
		return fmt.Errorf("upsert incidents: %w", err)
	}
	return nil
}

// ListInInterval returns incidents for an organization created inside
// [from, to), ordered by creation time.
func (s *IncidentStore) ListInInterval(orgID string, from, to time.Time) ([]models.Incident, error) {
	var incidents []models.Incident
	err := s.db.Where("org_id = ? AND creation_at >= ? AND creation_at < ?", orgID, from, to).
		Order("creation_at ASC").
		Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

// CountForOrg returns the number of persisted incidents for an organization.
func (s *IncidentStore) CountForOrg(orgID string) (int64, error) {
	var count int64
	if err := s.db.Model(&models.Incident{}).Where("org_id = ?", orgID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return count, nil
}
