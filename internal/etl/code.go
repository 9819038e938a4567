package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/providers"
)

// repoRef builds the provider-side reference for a tracked repository. The
// repo name is stored as "owner/name"; providers that address repositories by
// id use ExternalRepoID instead.
func repoRef(repo models.OrgRepo) providers.RepoRef {
	owner, name, _ := strings.Cut(repo.Name, "/")
	if name == "" {
		name = owner
		owner = ""
	}
	return providers.RepoRef{Owner: owner, Name: name, ExternalID: repo.ExternalRepoID}
}

// since resolves the fetch lower bound for a scope: the persisted bookmark
// cursor, or the configured sync window counted back from now on first sync.
func (h *Handler) since(repo models.OrgRepo, kind models.BookmarkKind) (time.Time, error) {
	bookmark, err := h.stores.Bookmarks.Read(repo.OrgID, repo.ID, kind)
	if err != nil {
		return time.Time{}, err
	}
	if bookmark != nil {
		if t := bookmark.CursorTime(); !t.IsZero() {
			return t, nil
		}
	}
	window, err := h.stores.Settings.GetSyncWindow(repo.OrgID, models.SettingEntityOrg)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-time.Duration(window.Days) * 24 * time.Hour), nil
}

// SyncPullRequests runs one incremental pull request sync for a repository:
// fetch records with activity past the bookmark, normalize, derive revert
// edges, and commit batch plus bookmark in one transaction. Returns the number
// of records persisted.
func (h *Handler) SyncPullRequests(ctx context.Context, repo models.OrgRepo) (int, error) {
	since, err := h.since(repo, models.BookmarkKindPullRequest)
	if err != nil {
		return 0, err
	}

	records, err := h.client.ListPullRequests(ctx, repoRef(repo), since)
	if err != nil {
		return 0, fmt.Errorf("fetch pull requests for %s: %w", repo.Name, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Ascending activity order so a partial failure before commit leaves the
	// bookmark covering everything persisted and nothing beyond.
	sort.Slice(records, func(i, j int) bool {
		return records[i].StateChangedAt().Before(records[j].StateChangedAt())
	})

	prs := make([]models.PullRequest, 0, len(records))
	var cursor time.Time
	for _, rec := range records {
		if rec.Number <= 0 || rec.CreatedAt.IsZero() {
			h.logger.Warn("skipping malformed pull request record",
				"repoID", repo.ID, "providerID", rec.ProviderID, "number", rec.Number)
			continue
		}
		prs = append(prs, normalizePullRequest(repo.ID, rec))
		if changed := rec.StateChangedAt(); changed.After(cursor) {
			cursor = changed
		}
	}
	if len(prs) == 0 {
		return 0, nil
	}

	if err := h.persistPullRequests(repo, prs, cursor); err != nil {
		return 0, err
	}

	h.logger.Info("pull request sync committed",
		"repoID", repo.ID, "records", len(prs), "cursor", cursor)
	return len(prs), nil
}

// persistPullRequests commits a normalized batch, its derived revert edges,
// and, when cursor is non-zero, the bookmark advance in one transaction. Both
// polling sync and webhook ingestion land here, so push- and pull-based
// records follow one pipeline; ingestion passes a zero cursor, because a
// pushed record proves nothing about the records before it and must not
// narrow what polling is allowed to fetch.
func (h *Handler) persistPullRequests(repo models.OrgRepo, prs []models.PullRequest, cursor time.Time) error {
	err := h.stores.DB.Transaction(func(tx *gorm.DB) error {
		prStore := h.stores.PullRequests.WithTx(tx)
		if err := prStore.UpsertBatch(prs); err != nil {
			return err
		}

		// Re-read the batch rows: upserts that landed on existing rows keep
		// the original row IDs, and revert edges must reference those.
		numbers := make([]int, 0, len(prs))
		for _, pr := range prs {
			numbers = append(numbers, pr.Number)
		}
		persisted, err := prStore.ListByNumbers(repo.ID, numbers)
		if err != nil {
			return err
		}

		candidates := correlation.DetectRevertCandidates(persisted)
		byNumber := make(map[int]models.PullRequest, len(persisted))
		for _, pr := range persisted {
			byNumber[pr.Number] = pr
		}
		// References may point at PRs synced in earlier batches.
		var missing []int
		for _, cand := range candidates {
			if _, ok := byNumber[cand.ReferencedNumber]; !ok {
				missing = append(missing, cand.ReferencedNumber)
			}
		}
		if len(missing) > 0 {
			earlier, err := prStore.ListByNumbers(repo.ID, missing)
			if err != nil {
				return err
			}
			for _, pr := range earlier {
				byNumber[pr.Number] = pr
			}
		}

		mappings := correlation.ResolveRevertMappings(candidates, byNumber, h.logger)
		if err := prStore.UpsertRevertMappings(mappings); err != nil {
			return err
		}

		if cursor.IsZero() {
			return nil
		}
		return h.stores.Bookmarks.WithTx(tx).Write(repo.OrgID, repo.ID, models.BookmarkKindPullRequest, cursor)
	})
	if err != nil {
		return fmt.Errorf("persist pull request batch for %s: %w", repo.Name, err)
	}
	return nil
}

// normalizePullRequest maps a raw provider record onto the internal entity,
// computing the lead-time segments the timeline markers allow. A segment whose
// endpoints are missing or out of order stays nil rather than zero: absent
// data must not drag averages down.
func normalizePullRequest(repoID string, rec providers.PullRequestRecord) models.PullRequest {
	pr := models.PullRequest{
		OrgRepoID:      repoID,
		Number:         rec.Number,
		ProviderPRID:   rec.ProviderID,
		Title:          rec.Title,
		Body:           rec.Body,
		Author:         rec.Author,
		State:          normalizePRState(rec),
		HeadBranch:     rec.HeadBranch,
		BaseBranch:     rec.BaseBranch,
		Additions:      rec.Additions,
		Deletions:      rec.Deletions,
		CreatedAt:      rec.CreatedAt,
		StateChangedAt: rec.StateChangedAt(),
		MergedAt:       rec.MergedAt,
		ClosedAt:       rec.ClosedAt,
	}

	pr.FirstCommitToOpenSecs = segmentSecs(rec.FirstCommitAt, &rec.CreatedAt)
	pr.FirstResponseSecs = segmentSecs(&rec.CreatedAt, rec.FirstReviewAt)
	pr.ReworkSecs = segmentSecs(rec.FirstReviewAt, rec.ApprovedAt)
	if rec.ApprovedAt != nil {
		pr.MergeSecs = segmentSecs(rec.ApprovedAt, rec.MergedAt)
	} else {
		pr.MergeSecs = segmentSecs(rec.FirstReviewAt, rec.MergedAt)
	}
	return pr
}

func normalizePRState(rec providers.PullRequestRecord) models.PullRequestState {
	switch rec.State {
	case "merged":
		return models.PullRequestStateMerged
	case "closed":
		return models.PullRequestStateClosed
	default:
		if rec.MergedAt != nil {
			return models.PullRequestStateMerged
		}
		return models.PullRequestStateOpen
	}
}

// segmentSecs returns the whole seconds between two timeline markers, or nil
// when either marker is absent or the pair is out of order.
func segmentSecs(from, to *time.Time) *int64 {
	if from == nil || to == nil || from.IsZero() || to.IsZero() {
		return nil
	}
	if to.Before(*from) {
		return nil
	}
	secs := int64(to.Sub(*from) / time.Second)
	return &secs
}
