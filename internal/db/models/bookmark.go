package models

import (
	"time"
)

// BookmarkKind names the resource a bookmark cursor applies to.
type BookmarkKind string

const (
	BookmarkKindPullRequest BookmarkKind = "pull_request"
	BookmarkKindWorkflowRun BookmarkKind = "workflow_run"
	BookmarkKindIncident    BookmarkKind = "incident"
)

// Bookmark is the persisted cursor marking the last successfully synced point
// for one (org, repo, kind) scope. The cursor is an RFC3339Nano timestamp of
// the newest record durably persisted; it only ever moves forward, and it is
// written in the same transaction as the batch it covers.
type Bookmark struct {
	OrgID     string       `gorm:"primaryKey;column:org_id;type:varchar(36)"`
	RepoID    string       `gorm:"primaryKey;column:repo_id;type:varchar(36)"`
	Kind      BookmarkKind `gorm:"primaryKey;column:kind;type:varchar(32)"`
	Cursor    string       `gorm:"column:cursor;not null"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
}

func (Bookmark) TableName() string { return "bookmarks" }

// CursorTime parses the cursor as a timestamp. Returns the zero time when the
// cursor is empty or malformed, which callers treat as "sync from the window
// start".
func (b *Bookmark) CursorTime() time.Time {
	if b == nil || b.Cursor == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, b.Cursor)
	if err != nil {
		return time.Time{}
	}
	return t
}
