package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpulse/devpulse/internal/db/models"
)

// SyncWindowSetting controls how far back the first sync of a scope reaches
// when no bookmark exists.
type SyncWindowSetting struct {
	Days int `json:"days"`
}

// IncidentSourcesSetting controls which signals count as incidents.
type IncidentSourcesSetting struct {
	RevertPRs bool `json:"revert_prs"`
	Alerts    bool `json:"alerts"`
}

// DefaultSyncWindow is the fallback sync window when no setting row exists.
var DefaultSyncWindow = SyncWindowSetting{Days: 31}

// DefaultIncidentSources is the fallback incident source selection.
var DefaultIncidentSources = IncidentSourcesSetting{RevertPRs: true, Alerts: true}

// SettingStore provides database operations for settings documents. Readers
// never see a missing setting: typed defaults are substituted, so application
// logic never handles nil settings.
type SettingStore struct {
	db *gorm.DB
}

// NewSettingStore creates a new SettingStore.
func NewSettingStore(db *gorm.DB) *SettingStore {
	return &SettingStore{db: db}
}

// Get returns the raw setting row, or nil when absent.
func (s *SettingStore) Get(entityID string, entityType models.SettingEntityType, settingType models.SettingType) (*models.Setting, error) {
	var row models.Setting
	err := s.db.Where("entity_id = ? AND entity_type = ? AND setting_type = ?",
		entityID, entityType, settingType).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &row, nil
}

// Set creates or replaces a setting document.
func (s *SettingStore) Set(entityID string, entityType models.SettingEntityType, settingType models.SettingType, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}

	row := models.Setting{
		EntityID:   entityID,
		EntityType: entityType,
		Type:       settingType,
		Value:      string(raw),
		UpdatedAt:  time.Now(),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}, {Name: "entity_type"}, {Name: "setting_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSyncWindow returns the sync window for an entity, falling back to the
// default when no row exists or the stored document is malformed.
func (s *SettingStore) GetSyncWindow(entityID string, entityType models.SettingEntityType) (SyncWindowSetting, error) {
	row, err := s.Get(entityID, entityType, models.SettingTypeSyncWindow)
	if err != nil {
		return DefaultSyncWindow, err
	}
	if row == nil {
		return DefaultSyncWindow, nil
	}

	var v SyncWindowSetting
	if err := json.Unmarshal([]byte(row.Value), &v); err != nil || v.Days <= 0 {
		return DefaultSyncWindow, nil
	}
	return v, nil
}

// GetIncidentSources returns the incident source selection for an entity,
// falling back to the default when no row exists.
func (s *SettingStore) GetIncidentSources(entityID string, entityType models.SettingEntityType) (IncidentSourcesSetting, error) {
	row, err := s.Get(entityID, entityType, models.SettingTypeIncidents)
	if err != nil {
		return DefaultIncidentSources, err
	}
	if row == nil {
		return DefaultIncidentSources, nil
	}

	var v IncidentSourcesSetting
	if err := json.Unmarshal([]byte(row.Value), &v); err != nil {
		return DefaultIncidentSources, nil
	}
	return v, nil
}
