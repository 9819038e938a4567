package models

import (
	"time"
)

// Provider identifies an external source-control / CI provider.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// DeploymentSource selects how deployments are derived for a repository.
type DeploymentSource string

const (
	// DeploymentSourceWorkflow derives deployments from CI workflow runs.
	DeploymentSourceWorkflow DeploymentSource = "WORKFLOW"
	// DeploymentSourcePRMerge treats every merged pull request as a deployment.
	DeploymentSourcePRMerge DeploymentSource = "PR_MERGE"
)

// Organization is a tenant owning tracked repositories. All sync state is
// scoped to one organization; there are no cross-organization references.
type Organization struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string    `gorm:"column:name;uniqueIndex:idx_org_name;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Organization) TableName() string { return "organizations" }

// OrgRepo is a tracked repository. Identity is (org, provider, external repo id)
// and is immutable; only the sync-enabled flag and deployment source may change.
type OrgRepo struct {
	ID               string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrgID            string           `gorm:"column:org_id;uniqueIndex:idx_repo_identity,priority:1;index:idx_repo_org;not null"`
	Provider         Provider         `gorm:"column:provider;uniqueIndex:idx_repo_identity,priority:2;not null"`
	ExternalRepoID   string           `gorm:"column:external_repo_id;uniqueIndex:idx_repo_identity,priority:3;not null"`
	Name             string           `gorm:"column:name;not null"`
	DefaultBranch    string           `gorm:"column:default_branch;default:main"`
	DeploymentSource DeploymentSource `gorm:"column:deployment_source;default:WORKFLOW;not null"`
	SyncEnabled      bool             `gorm:"column:sync_enabled;default:true;not null"`
	CreatedAt        time.Time        `gorm:"column:created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at"`
}

func (OrgRepo) TableName() string { return "org_repos" }
