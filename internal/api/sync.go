package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/providers"
	"github.com/devpulse/devpulse/pkg/jobs"
)

type triggerSyncRequest struct {
	Provider string `json:"provider"`
}

// triggerSyncHandler enqueues a sync job for an organization. A request for an
// org that already has a pass running or queued is rejected with 409, never
// queued behind it.
func (s *Server) triggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	provider := models.Provider(req.Provider)
	if provider != models.ProviderGitHub && provider != models.ProviderGitLab {
		writeError(w, http.StatusBadRequest, "provider must be github or gitlab", nil)
		return
	}
	if _, ok := s.registry.HandlerFor(provider); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("provider %s is not configured", provider), nil)
		return
	}
	org, err := s.orgs.GetOrg(orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get organization", err)
		return
	}
	if org == nil {
		writeError(w, http.StatusNotFound, "organization not found", nil)
		return
	}

	if s.orchestrator.Busy(orgID) {
		writeError(w, http.StatusConflict, "sync already in progress for this organization", nil)
		return
	}

	requestedBy := r.Header.Get("X-Remote-User")
	if requestedBy == "" {
		requestedBy = "api"
	}

	job := &jobs.SyncJob{
		OrgID:          orgID,
		Provider:       string(provider),
		RequestedBy:    requestedBy,
		RequestedAt:    time.Now(),
		IdempotencyKey: fmt.Sprintf("sync:%s:%s", orgID, provider),
	}
	enqueued, err := s.jobs.Enqueue(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue sync job", err)
		return
	}
	if enqueued.ID != job.ID {
		// The idempotency key matched a queued or running job.
		writeJSON(w, http.StatusConflict, enqueued)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueued)
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	filter := jobs.JobListFilter{
		OrgID:    chi.URLParam(r, "orgID"),
		Provider: r.URL.Query().Get("provider"),
		State:    r.URL.Query().Get("state"),
	}
	items, nextToken, total, err := s.jobs.List(filter, 50, r.URL.Query().Get("pageToken"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"size":          len(items),
		"totalSize":     total,
		"nextPageToken": nextToken,
	})
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Cancel(jobID); err != nil {
		writeError(w, http.StatusConflict, "cancel job", err)
		return
	}
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// webhookPayload is the push-style ingestion request body.
type webhookPayload struct {
	PullRequests []providers.PullRequestRecord `json:"pullRequests"`
	WorkflowRuns []providers.WorkflowRunRecord `json:"workflowRuns"`
	Incidents    []providers.IncidentRecord    `json:"incidents"`
}

// webhookHandler ingests pushed records for one repository. The payload is
// validated whole before anything is persisted: an oversized or malformed
// request changes nothing.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	repoID := chi.URLParam(r, "repoID")

	repo, err := s.orgs.GetRepo(repoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get repository", err)
		return
	}
	if repo == nil || repo.OrgID != orgID {
		writeError(w, http.StatusNotFound, "repository not found", nil)
		return
	}
	handler, ok := s.registry.HandlerFor(repo.Provider)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("provider %s is not configured", repo.Provider), nil)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	persisted, err := handler.Ingest(r.Context(), *repo, payload.PullRequests, payload.WorkflowRuns, payload.Incidents)
	if err != nil {
		switch {
		case errors.Is(err, etl.ErrPayloadLimitExceeded):
			writeError(w, http.StatusRequestEntityTooLarge, "payload limit exceeded", err)
		case errors.Is(err, etl.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, "payload validation failed", err)
		default:
			writeError(w, http.StatusInternalServerError, "ingest payload", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persisted": persisted})
}
