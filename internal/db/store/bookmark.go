// Package store provides gorm-backed persistence for all devpulse entities.
// Every upsert is keyed by provider-assigned identity so that re-running a
// sync batch, or replaying a redelivered webhook, lands on existing rows.
package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/db/models"
)

// BookmarkStore persists sync cursors per (org, repo, resource kind).
type BookmarkStore struct {
	db *gorm.DB
}

// NewBookmarkStore creates a new BookmarkStore.
func NewBookmarkStore(db *gorm.DB) *BookmarkStore {
	return &BookmarkStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction. Callers
// use this to commit a bookmark advance atomically with the batch it covers.
func (s *BookmarkStore) WithTx(tx *gorm.DB) *BookmarkStore {
	return &BookmarkStore{db: tx}
}

// Read returns the bookmark for a scope, or nil when none exists yet.
func (s *BookmarkStore) Read(orgID, repoID string, kind models.BookmarkKind) (*models.Bookmark, error) {
	var b models.Bookmark
	err := s.db.Where("org_id = ? AND repo_id = ? AND kind = ?", orgID, repoID, kind).First(&b).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read bookmark: %w", err)
	}
	return &b, nil
}

// Write advances the bookmark for a scope. The cursor is monotonic: a write
// with a cursor behind the persisted one is ignored, so a replayed batch can
// never move a scope backwards.
func (s *BookmarkStore) Write(orgID, repoID string, kind models.BookmarkKind, cursor time.Time) error {
	existing, err := s.Read(orgID, repoID, kind)
	if err != nil {
		return err
	}

	if existing != nil {
		if !cursor.After(existing.CursorTime()) {
			return nil
		}
		result := s.db.Model(&models.Bookmark{}).
			Where("org_id = ? AND repo_id = ? AND kind = ?", orgID, repoID, kind).
			Updates(map[string]any{
				"cursor":     cursor.Format(time.RFC3339Nano),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("advance bookmark: %w", result.Error)
		}
		return nil
	}

	b := models.Bookmark{
		OrgID:     orgID,
		RepoID:    repoID,
		Kind:      kind,
		Cursor:    cursor.Format(time.RFC3339Nano),
		UpdatedAt: time.Now(),
	}
	if err := s.db.Create(&b).Error; err != nil {
		return fmt.Errorf("create bookmark: %w", err)
	}
	return nil
}

// ListForOrg returns all bookmarks for an organization, for inspection.
func (s *BookmarkStore) ListForOrg(orgID string) ([]models.Bookmark, error) {
	var bookmarks []models.Bookmark
	if err := s.db.Where("org_id = ?", orgID).Order("repo_id, kind").Find(&bookmarks).Error; err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return bookmarks, nil
}
