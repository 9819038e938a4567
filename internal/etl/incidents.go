package etl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db/models"
)

// SyncIncidents recomputes incidents for a repository from its revert edges.
// It runs last in the stage sequence so that the edges and deployments of the
// current run are already durable. Recomputation over the full edge set is
// deliberate: incident identity is deterministic, so the upsert converges and
// edges resolved late (the original PR synced in an earlier batch) still
// produce their incident. Returns the number of incidents persisted.
func (h *Handler) SyncIncidents(ctx context.Context, repo models.OrgRepo) (int, error) {
	sources, err := h.stores.Settings.GetIncidentSources(repo.OrgID, models.SettingEntityOrg)
	if err != nil {
		return 0, err
	}
	if !sources.RevertPRs {
		return 0, nil
	}

	mappings, err := h.stores.PullRequests.ListRevertMappings(repo.ID)
	if err != nil {
		return 0, err
	}
	if len(mappings) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, 2*len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.RevertPRID, m.OriginalPRID)
	}
	prsByID, err := h.stores.PullRequests.ListByIDs(ids)
	if err != nil {
		return 0, err
	}

	incidents := correlation.RevertIncidents(repo.OrgID, mappings, prsByID)
	if len(incidents) == 0 {
		return 0, nil
	}

	var cursor time.Time
	for _, inc := range incidents {
		if inc.ResolvedAt != nil && inc.ResolvedAt.After(cursor) {
			cursor = *inc.ResolvedAt
		}
	}

	err = h.stores.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.stores.Incidents.WithTx(tx).UpsertBatch(incidents); err != nil {
			return err
		}
		return h.stores.Bookmarks.WithTx(tx).Write(repo.OrgID, repo.ID, models.BookmarkKindIncident, cursor)
	})
	if err != nil {
		return 0, fmt.Errorf("persist incidents for %s: %w", repo.Name, err)
	}

	h.logger.Info("incident sync committed",
		"repoID", repo.ID, "incidents", len(incidents))
	return len(incidents), nil
}
