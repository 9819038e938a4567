package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/db/models"
)

// OrgStore provides database operations for organizations and their tracked
// repositories.
type OrgStore struct {
	db *gorm.DB
}

// NewOrgStore creates a new OrgStore.
func NewOrgStore(db *gorm.DB) *OrgStore {
	return &OrgStore{db: db}
}

// CreateOrg creates an organization. A missing ID is generated.
func (s *OrgStore) CreateOrg(org *models.Organization) (*models.Organization, error) {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	if err := s.db.Create(org).Error; err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

// GetOrg retrieves an organization by ID, or nil when absent.
func (s *OrgStore) GetOrg(orgID string) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.First(&org, "id = ?", orgID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// ListOrgs returns all organizations.
func (s *OrgStore) ListOrgs() ([]models.Organization, error) {
	var orgs []models.Organization
	if err := s.db.Order("name").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// AddRepo registers a repository for tracking. The (org, provider, external
// repo id) identity is unique; re-adding an existing repo is an error surfaced
// by the unique index.
func (s *OrgStore) AddRepo(repo *models.OrgRepo) (*models.OrgRepo, error) {
	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}
	now := time.Now()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	if repo.DeploymentSource == "" {
		repo.DeploymentSource = models.DeploymentSourceWorkflow
	}
	if err := s.db.Create(repo).Error; err != nil {
		return nil, fmt.Errorf("add repo: %w", err)
	}
	return repo, nil
}

// GetRepo retrieves a tracked repository by ID, or nil when absent.
func (s *OrgStore) GetRepo(repoID string) (*models.OrgRepo, error) {
	var repo models.OrgRepo
	if err := s.db.First(&repo, "id = ?", repoID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get repo: %w", err)
	}
	return &repo, nil
}

// ListRepos returns tracked repositories for an organization, optionally
// restricted to one provider. Only sync-enabled repos are returned when
// enabledOnly is set.
func (s *OrgStore) ListRepos(orgID string, provider models.Provider, enabledOnly bool) ([]models.OrgRepo, error) {
	q := s.db.Where("org_id = ?", orgID)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if enabledOnly {
		q = q.Where("sync_enabled = ?", true)
	}

	var repos []models.OrgRepo
	if err := q.Order("name").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return repos, nil
}

// SetSyncEnabled flips the sync-enabled flag for a repository.
func (s *OrgStore) SetSyncEnabled(repoID string, enabled bool) error {
	result := s.db.Model(&models.OrgRepo{}).Where("id = ?", repoID).
		Updates(map[string]any{
			"sync_enabled": enabled,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("set sync enabled: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("repo not found: %s", repoID)
	}
	return nil
}
