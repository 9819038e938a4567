package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devpulse/devpulse/internal/db/models"
)

// PullRequestStore provides database operations for pull requests and the
// derived revert mappings.
type PullRequestStore struct {
	db *gorm.DB
}

// NewPullRequestStore creates a new PullRequestStore.
func NewPullRequestStore(db *gorm.DB) *PullRequestStore {
	return &PullRequestStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *PullRequestStore) WithTx(tx *gorm.DB) *PullRequestStore {
	return &PullRequestStore{db: tx}
}

// UpsertBatch persists a batch of normalized pull requests. Conflicts on the
// (repo, number) identity update the mutable columns in place, so re-fetching
// an already-persisted page changes nothing. Rows whose persisted state is
// already terminal are frozen: a terminal PR never transitions back to open.
func (s *PullRequestStore) UpsertBatch(prs []models.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}

	for i := range prs {
		if prs[i].ID == "" {
			prs[i].ID = uuid.New().String()
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_repo_id"}, {Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "body", "author", "state", "head_branch", "base_branch",
			"additions", "deletions", "state_changed_at", "merged_at", "closed_at",
			"first_commit_to_open_secs", "first_response_secs", "rework_secs", "merge_secs",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "pull_requests.state NOT IN ('MERGED','CLOSED')"},
		}},
	}).Create(&prs).Error
	if err != nil {
		return fmt.Errorf("upsert pull requests: %w", err)
	}
	return nil
}

// GetByNumber returns the PR with the given provider number in a repo, or nil.
func (s *PullRequestStore) GetByNumber(repoID string, number int) (*models.PullRequest, error) {
	var pr models.PullRequest
	err := s.db.Where("org_repo_id = ? AND number = ?", repoID, number).First(&pr).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return &pr, nil
}

// ListByNumbers returns the PRs with the given provider numbers in a repo.
// Unknown numbers are simply absent from the result.
func (s *PullRequestStore) ListByNumbers(repoID string, numbers []int) ([]models.PullRequest, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var prs []models.PullRequest
	err := s.db.Where("org_repo_id = ? AND number IN ?", repoID, numbers).Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("list pull requests by number: %w", err)
	}
	return prs, nil
}

// ListByIDs returns the PRs with the given row IDs, keyed by ID.
func (s *PullRequestStore) ListByIDs(ids []string) (map[string]models.PullRequest, error) {
	if len(ids) == 0 {
		return map[string]models.PullRequest{}, nil
	}
	var prs []models.PullRequest
	if err := s.db.Where("id IN ?", ids).Find(&prs).Error; err != nil {
		return nil, fmt.Errorf("list pull requests by id: %w", err)
	}
	out := make(map[string]models.PullRequest, len(prs))
	for _, pr := range prs {
		out[pr.ID] = pr
	}
	return out, nil
}

// ListMergedInInterval returns merged PRs for a set of repos whose merge time
// falls inside [from, to), ordered by merge time.
func (s *PullRequestStore) ListMergedInInterval(repoIDs []string, from, to time.Time) ([]models.PullRequest, error) {
	var prs []models.PullRequest
	err := s.db.Where("org_repo_id IN ? AND state = ? AND merged_at >= ? AND merged_at < ?",
		repoIDs, models.PullRequestStateMerged, from, to).
		Order("merged_at ASC").
		Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("list merged pull requests: %w", err)
	}
	return prs, nil
}

// ListMergedWithoutDeployment returns merged PRs in a repo that are not yet
// represented as a PR_MERGE deployment, ordered by merge time.
func (s *PullRequestStore) ListMergedWithoutDeployment(repoID string) ([]models.PullRequest, error) {
	var prs []models.PullRequest
	err := s.db.Where("org_repo_id = ? AND state = ?", repoID, models.PullRequestStateMerged).
		Where("id NOT IN (?)", s.db.Model(&models.Deployment{}).
			Select("entity_id").
			Where("org_repo_id = ? AND source = ?", repoID, models.DeploymentSourcePRMerge)).
		Order("merged_at ASC").
		Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("list undeployed merged pull requests: %w", err)
	}
	return prs, nil
}

// CountForRepo returns the number of persisted PRs in a repo.
func (s *PullRequestStore) CountForRepo(repoID string) (int64, error) {
	var count int64
	if err := s.db.Model(&models.PullRequest{}).Where("org_repo_id = ?", repoID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count pull requests: %w", err)
	}
	return count, nil
}

// UpsertRevertMappings persists derived revert edges. The (revert, original)
// pair is the primary key and conflicts are ignored, which makes recomputation
// over overlapping PR sets produce the union with no duplicate edges.
func (s *PullRequestStore) UpsertRevertMappings(mappings []models.PullRequestRevertMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	for i := range mappings {
		if mappings[i].CreatedAt.IsZero() {
			mappings[i].CreatedAt = time.Now()
		}
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&mappings).Error
	if err != nil {
		return fmt.Errorf("upsert revert mappings: %w", err)
	}
	return nil
}

// ListRevertMappings returns all revert edges for a repo.
func (s *PullRequestStore) ListRevertMappings(repoID string) ([]models.PullRequestRevertMapping, error) {
	var mappings []models.PullRequestRevertMapping
	if err := s.db.Where("org_repo_id = ?", repoID).Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("list revert mappings: %w", err)
	}
	return mappings, nil
}
