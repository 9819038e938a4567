package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/providers"
)

// MaxPayloadRecords is the hard cap on records per webhook request, counting
// pull requests, workflow runs, and incidents together.
const MaxPayloadRecords = 500

var (
	// ErrPayloadLimitExceeded means a webhook payload carried more than
	// MaxPayloadRecords records. The request is rejected whole.
	ErrPayloadLimitExceeded = errors.New("payload exceeds record limit")

	// ErrInvalidPayload means a webhook record failed schema validation. The
	// request is rejected whole; nothing from it is persisted.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Ingest persists pushed records through the same pipeline as polling sync.
// Unlike polling, which skips a malformed record and keeps the batch, webhook
// ingestion is all-or-nothing: the payload is validated in full before any
// persistence, and one bad record rejects the request. Polling bookmarks are
// never advanced here: a pushed record does not mean everything before it was
// delivered, so older never-pushed records must stay fetchable.
func (h *Handler) Ingest(ctx context.Context, repo models.OrgRepo, prRecords []providers.PullRequestRecord, runRecords []providers.WorkflowRunRecord, incidentRecords []providers.IncidentRecord) (int, error) {
	total := len(prRecords) + len(runRecords) + len(incidentRecords)
	if total > MaxPayloadRecords {
		return 0, fmt.Errorf("%w: %d records, limit %d",
			ErrPayloadLimitExceeded, total, MaxPayloadRecords)
	}

	for i, rec := range prRecords {
		if rec.Number <= 0 {
			return 0, fmt.Errorf("%w: pull request %d: number is required", ErrInvalidPayload, i)
		}
		if rec.CreatedAt.IsZero() {
			return 0, fmt.Errorf("%w: pull request %d: createdAt is required", ErrInvalidPayload, i)
		}
	}
	for i, rec := range runRecords {
		if rec.ProviderRunID == "" {
			return 0, fmt.Errorf("%w: workflow run %d: id is required", ErrInvalidPayload, i)
		}
		if rec.StartedAt.IsZero() {
			return 0, fmt.Errorf("%w: workflow run %d: startedAt is required", ErrInvalidPayload, i)
		}
	}
	for i, rec := range incidentRecords {
		if rec.ProviderKey == "" {
			return 0, fmt.Errorf("%w: incident %d: providerKey is required", ErrInvalidPayload, i)
		}
		if rec.CreatedAt.IsZero() {
			return 0, fmt.Errorf("%w: incident %d: createdAt is required", ErrInvalidPayload, i)
		}
	}

	persisted := 0
	if len(prRecords) > 0 {
		sort.Slice(prRecords, func(i, j int) bool {
			return prRecords[i].StateChangedAt().Before(prRecords[j].StateChangedAt())
		})
		prs := make([]models.PullRequest, 0, len(prRecords))
		for _, rec := range prRecords {
			prs = append(prs, normalizePullRequest(repo.ID, rec))
		}
		if err := h.persistPullRequests(repo, prs, time.Time{}); err != nil {
			return 0, err
		}
		persisted += len(prs)
	}

	if len(runRecords) > 0 {
		sort.Slice(runRecords, func(i, j int) bool {
			return runRecords[i].StartedAt.Before(runRecords[j].StartedAt)
		})
		runs := make([]models.RepoWorkflowRun, 0, len(runRecords))
		var first, last time.Time
		for _, rec := range runRecords {
			runs = append(runs, normalizeWorkflowRun(repo.ID, rec))
			if rec.StartedAt.After(last) {
				last = rec.StartedAt
			}
			if first.IsZero() || rec.StartedAt.Before(first) {
				first = rec.StartedAt
			}
		}
		if err := h.persistWorkflowRuns(repo, runs, first, last, time.Time{}); err != nil {
			return 0, err
		}
		persisted += len(runs)
	}

	if len(incidentRecords) > 0 {
		n, err := h.ingestIncidents(repo, incidentRecords)
		if err != nil {
			return 0, err
		}
		persisted += n
	}

	h.logger.Info("webhook payload ingested",
		"repoID", repo.ID, "pullRequests", len(prRecords),
		"workflowRuns", len(runRecords), "incidents", len(incidentRecords))
	return persisted, nil
}

// ingestIncidents persists pushed alert incidents, subject to the org's
// incident source selection. Records arriving while alerts are disabled are
// dropped, not rejected: the payload may legitimately mix record kinds.
func (h *Handler) ingestIncidents(repo models.OrgRepo, records []providers.IncidentRecord) (int, error) {
	sources, err := h.stores.Settings.GetIncidentSources(repo.OrgID, models.SettingEntityOrg)
	if err != nil {
		return 0, err
	}
	if !sources.Alerts {
		h.logger.Info("alert incidents disabled for organization, dropping records",
			"orgID", repo.OrgID, "repoID", repo.ID, "records", len(records))
		return 0, nil
	}

	incidents := make([]models.Incident, 0, len(records))
	for _, rec := range records {
		incidents = append(incidents, normalizeIncident(repo.OrgID, repo.ID, rec))
	}
	if err := h.stores.Incidents.UpsertBatch(incidents); err != nil {
		return 0, fmt.Errorf("persist alert incidents for %s: %w", repo.Name, err)
	}
	return len(incidents), nil
}

// normalizeIncident maps a pushed alert onto the internal entity. The provider
// key makes redelivery an upsert; a record carrying a resolution time lands
// resolved.
func normalizeIncident(orgID, repoID string, rec providers.IncidentRecord) models.Incident {
	inc := models.Incident{
		OrgID:       orgID,
		OrgRepoID:   repoID,
		ProviderKey: rec.ProviderKey,
		Title:       rec.Title,
		Status:      models.IncidentStatusOpen,
		Type:        models.IncidentTypeAlert,
		Assignees:   strings.Join(rec.Assignees, ","),
		CreationAt:  rec.CreatedAt,
		AckedAt:     rec.AckedAt,
		ResolvedAt:  rec.ResolvedAt,
	}
	if rec.ResolvedAt != nil {
		inc.Status = models.IncidentStatusResolved
	}
	return inc
}
