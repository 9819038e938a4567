package models

import (
	"time"

	"github.com/google/uuid"
)

// deploymentNamespace seeds the deterministic deployment IDs. It never changes:
// the same (source, entity) pair must hash to the same row forever.
var deploymentNamespace = uuid.MustParse("63cbd59c-9b86-4e0e-b9a4-8575c1d6a1f3")

// DeploymentStatus is the outcome of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusSuccess DeploymentStatus = "SUCCESS"
	DeploymentStatusFailure DeploymentStatus = "FAILURE"
	DeploymentStatusPending DeploymentStatus = "PENDING"
)

// Deployment unifies the two deployment sources into one entity: a CI workflow
// run (EntityID = workflow run id) or a merged pull request treated as a
// release (EntityID = pull request id). Exactly one row may exist per
// (source, entity id) pair; the primary key is a deterministic hash of that
// composite so concurrent writers converge on the same row.
type Deployment struct {
	ID           string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgRepoID    string           `gorm:"column:org_repo_id;index:idx_deploy_repo;not null"`
	Source       DeploymentSource `gorm:"column:source;uniqueIndex:idx_deploy_identity,priority:1;not null"`
	EntityID     string           `gorm:"column:entity_id;uniqueIndex:idx_deploy_identity,priority:2;not null"`
	Status       DeploymentStatus `gorm:"column:status;index:idx_deploy_status;not null"`
	ConductedAt  time.Time        `gorm:"column:conducted_at;index:idx_deploy_conducted;not null"`
	HeadBranch   string           `gorm:"column:head_branch"`
	DurationSecs int64            `gorm:"column:duration_secs"`
}

func (Deployment) TableName() string { return "deployments" }

// DeploymentID returns the deterministic ID for a (source, entity) pair.
func DeploymentID(source DeploymentSource, entityID string) string {
	return uuid.NewSHA1(deploymentNamespace, []byte(string(source)+":"+entityID)).String()
}
