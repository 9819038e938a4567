package models

import (
	"time"
)

// SettingEntityType scopes a setting row to an organization or repository.
type SettingEntityType string

const (
	SettingEntityOrg  SettingEntityType = "ORG"
	SettingEntityRepo SettingEntityType = "REPO"
)

// SettingType names a settings document.
type SettingType string

const (
	// SettingTypeSyncWindow controls how far back the first sync of a scope
	// reaches when no bookmark exists yet.
	SettingTypeSyncWindow SettingType = "sync_window"
	// SettingTypeIncidents controls which signals count as incidents.
	SettingTypeIncidents SettingType = "incident_sources"
)

// Setting is a JSON settings document keyed by (entity, entity type, setting
// type), versioned only by UpdatedAt. Application code never sees a missing
// setting: the store substitutes typed defaults.
type Setting struct {
	EntityID   string            `gorm:"primaryKey;column:entity_id;type:varchar(36)"`
	EntityType SettingEntityType `gorm:"primaryKey;column:entity_type;type:varchar(16)"`
	Type       SettingType       `gorm:"primaryKey;column:setting_type;type:varchar(32)"`
	Value      string            `gorm:"column:value;not null"` // JSON document
	UpdatedAt  time.Time         `gorm:"column:updated_at"`
}

func (Setting) TableName() string { return "settings" }
