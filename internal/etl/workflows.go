package etl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/providers"
)

// SyncWorkflowRuns runs one incremental CI run sync for a repository. For
// repos whose deployment source is WORKFLOW, completed runs are materialized
// as deployments in the same transaction. Returns the number of run records
// persisted.
func (h *Handler) SyncWorkflowRuns(ctx context.Context, repo models.OrgRepo) (int, error) {
	since, err := h.since(repo, models.BookmarkKindWorkflowRun)
	if err != nil {
		return 0, err
	}

	records, err := h.client.ListWorkflowRuns(ctx, repoRef(repo), since)
	if err != nil {
		return 0, fmt.Errorf("fetch workflow runs for %s: %w", repo.Name, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})

	runs := make([]models.RepoWorkflowRun, 0, len(records))
	var first, last time.Time
	for _, rec := range records {
		if rec.ProviderRunID == "" || rec.StartedAt.IsZero() {
			h.logger.Warn("skipping malformed workflow run record",
				"repoID", repo.ID, "providerRunID", rec.ProviderRunID)
			continue
		}
		runs = append(runs, normalizeWorkflowRun(repo.ID, rec))
		if rec.StartedAt.After(last) {
			last = rec.StartedAt
		}
		if first.IsZero() || rec.StartedAt.Before(first) {
			first = rec.StartedAt
		}
	}
	if len(runs) == 0 {
		return 0, nil
	}

	if err := h.persistWorkflowRuns(repo, runs, first, last, last); err != nil {
		return 0, err
	}

	h.logger.Info("workflow run sync committed",
		"repoID", repo.ID, "records", len(runs), "cursor", last)
	return len(runs), nil
}

// persistWorkflowRuns commits a normalized batch, any derived deployments,
// and, when cursor is non-zero, the bookmark advance in one transaction.
// [first, last] bounds the batch for the deployment re-read. Shared by polling
// sync and webhook ingestion; ingestion passes a zero cursor so pushed records
// never narrow what polling is allowed to fetch.
func (h *Handler) persistWorkflowRuns(repo models.OrgRepo, runs []models.RepoWorkflowRun, first, last, cursor time.Time) error {
	err := h.stores.DB.Transaction(func(tx *gorm.DB) error {
		runStore := h.stores.WorkflowRuns.WithTx(tx)
		if err := runStore.UpsertBatch(runs); err != nil {
			return err
		}

		if repo.DeploymentSource == models.DeploymentSourceWorkflow {
			// Re-read the persisted rows so deployment identity binds to the
			// stable run row IDs, not the throwaway IDs of this batch.
			persisted, err := runStore.ListInInterval([]string{repo.ID}, first, last.Add(time.Nanosecond))
			if err != nil {
				return err
			}
			deployments := deploymentsFromRuns(repo.ID, persisted)
			if err := h.stores.Deployments.WithTx(tx).UpsertBatch(deployments); err != nil {
				return err
			}
		}

		if cursor.IsZero() {
			return nil
		}
		return h.stores.Bookmarks.WithTx(tx).Write(repo.OrgID, repo.ID, models.BookmarkKindWorkflowRun, cursor)
	})
	if err != nil {
		return fmt.Errorf("persist workflow run batch for %s: %w", repo.Name, err)
	}
	return nil
}

// normalizeWorkflowRun maps a raw provider record onto the internal entity.
// Provider conclusions collapse to four statuses; anything unrecognized or
// still running counts as PENDING.
func normalizeWorkflowRun(repoID string, rec providers.WorkflowRunRecord) models.RepoWorkflowRun {
	run := models.RepoWorkflowRun{
		OrgRepoID:     repoID,
		Workflow:      rec.Workflow,
		ProviderRunID: rec.ProviderRunID,
		Status:        normalizeConclusion(rec.Conclusion),
		HeadBranch:    rec.HeadBranch,
		HeadSHA:       rec.HeadSHA,
		ConductedAt:   rec.StartedAt,
		HTMLURL:       rec.HTMLURL,
	}
	if !rec.CompletedAt.IsZero() && rec.CompletedAt.After(rec.StartedAt) {
		run.DurationSecs = int64(rec.CompletedAt.Sub(rec.StartedAt) / time.Second)
	}
	return run
}

func normalizeConclusion(conclusion string) models.WorkflowRunStatus {
	switch conclusion {
	case "success":
		return models.WorkflowRunSuccess
	case "failure", "timed_out", "failed":
		return models.WorkflowRunFailure
	case "cancelled", "canceled", "skipped":
		return models.WorkflowRunCancelled
	default:
		return models.WorkflowRunPending
	}
}

// deploymentsFromRuns materializes deployments for completed runs. Pending and
// cancelled runs never count as deployments: nothing shipped.
func deploymentsFromRuns(repoID string, runs []models.RepoWorkflowRun) []models.Deployment {
	deployments := make([]models.Deployment, 0, len(runs))
	for _, run := range runs {
		if run.Status != models.WorkflowRunSuccess && run.Status != models.WorkflowRunFailure {
			continue
		}
		status := models.DeploymentStatusSuccess
		if run.Status == models.WorkflowRunFailure {
			status = models.DeploymentStatusFailure
		}
		deployments = append(deployments, models.Deployment{
			OrgRepoID:    repoID,
			Source:       models.DeploymentSourceWorkflow,
			EntityID:     run.ID,
			Status:       status,
			ConductedAt:  run.ConductedAt,
			HeadBranch:   run.HeadBranch,
			DurationSecs: run.DurationSecs,
		})
	}
	return deployments
}
