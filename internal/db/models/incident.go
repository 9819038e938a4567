package models

import (
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen     IncidentStatus = "OPEN"
	IncidentStatusResolved IncidentStatus = "RESOLVED"
)

// IncidentType records where an incident came from.
type IncidentType string

const (
	// IncidentTypeRevertPR marks an incident synthesized from a revert pull
	// request: creation is the original PR's merge time, resolution is the
	// revert PR's merge time.
	IncidentTypeRevertPR IncidentType = "REVERT_PR"
	// IncidentTypeAlert marks an incident ingested from an external incident
	// service.
	IncidentTypeAlert IncidentType = "ALERT"
)

// Incident is a production incident, either fetched from an incident provider
// or synthesized from a revert pull request. ProviderKey is the provider's own
// identifier for fetched incidents and a deterministic synthetic key for
// revert-derived ones, so re-running either path upserts rather than
// duplicates.
type Incident struct {
	ID          string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgID       string         `gorm:"column:org_id;index:idx_incident_org;not null"`
	OrgRepoID   string         `gorm:"column:org_repo_id;index:idx_incident_repo"`
	ProviderKey string         `gorm:"column:provider_key;uniqueIndex:idx_incident_key;not null"`
	Title       string         `gorm:"column:title"`
	Status      IncidentStatus `gorm:"column:status;index:idx_incident_status;not null"`
	Type        IncidentType   `gorm:"column:type;not null"`
	Assignees   string         `gorm:"column:assignees"` // comma-separated logins
	CreationAt  time.Time      `gorm:"column:creation_at;index:idx_incident_creation;not null"`
	AckedAt     *time.Time     `gorm:"column:acked_at"`
	ResolvedAt  *time.Time     `gorm:"column:resolved_at"`
}

func (Incident) TableName() string { return "incidents" }
