package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
)

type createOrgRequest struct {
	Name string `json:"name"`
}

func (s *Server) createOrgHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	org, err := s.orgs.CreateOrg(&models.Organization{Name: req.Name})
	if err != nil {
		writeError(w, http.StatusConflict, "create organization", err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) listOrgsHandler(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.orgs.ListOrgs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list organizations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orgs, "size": len(orgs)})
}

func (s *Server) getOrgHandler(w http.ResponseWriter, r *http.Request) {
	org, err := s.orgs.GetOrg(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get organization", err)
		return
	}
	if org == nil {
		writeError(w, http.StatusNotFound, "organization not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

type addRepoRequest struct {
	Name             string `json:"name"`
	Provider         string `json:"provider"`
	ExternalRepoID   string `json:"externalRepoId"`
	DefaultBranch    string `json:"defaultBranch"`
	DeploymentSource string `json:"deploymentSource"`
}

func (s *Server) addRepoHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req addRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || req.ExternalRepoID == "" {
		writeError(w, http.StatusBadRequest, "name and externalRepoId are required", nil)
		return
	}
	provider := models.Provider(req.Provider)
	if provider != models.ProviderGitHub && provider != models.ProviderGitLab {
		writeError(w, http.StatusBadRequest, "provider must be github or gitlab", nil)
		return
	}
	source := models.DeploymentSource(req.DeploymentSource)
	switch source {
	case "":
		source = models.DeploymentSourceWorkflow
	case models.DeploymentSourceWorkflow, models.DeploymentSourcePRMerge:
	default:
		writeError(w, http.StatusBadRequest, "deploymentSource must be WORKFLOW or PR_MERGE", nil)
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

	repo, err := s.orgs.AddRepo(&models.OrgRepo{
		OrgID:            orgID,
		Provider:         provider,
		ExternalRepoID:   req.ExternalRepoID,
		Name:             req.Name,
		DefaultBranch:    req.DefaultBranch,
		DeploymentSource: source,
		SyncEnabled:      true,
	})
	if err != nil {
		writeError(w, http.StatusConflict, "add repository", err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) listReposHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	provider := models.Provider(r.URL.Query().Get("provider"))

	repos, err := s.orgs.ListRepos(orgID, provider, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list repositories", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": repos, "size": len(repos)})
}

type setSyncEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setSyncEnabledHandler(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")

	var req setSyncEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required", nil)
		return
	}

	if err := s.orgs.SetSyncEnabled(repoID, *req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, "set sync enabled", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repoId": repoID, "enabled": *req.Enabled})
}

func (s *Server) listBookmarksHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	bookmarks, err := s.bookmarks.ListForOrg(orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list bookmarks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": bookmarks, "size": len(bookmarks)})
}

var settingTypes = map[string]models.SettingType{
	"sync_window":      models.SettingTypeSyncWindow,
	"incident_sources": models.SettingTypeIncidents,
}

func (s *Server) getSettingHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	settingType, ok := settingTypes[chi.URLParam(r, "settingType")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown setting type", nil)
		return
	}

	switch settingType {
	case models.SettingTypeSyncWindow:
		v, err := s.settings.GetSyncWindow(orgID, models.SettingEntityOrg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get setting", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case models.SettingTypeIncidents:
		v, err := s.settings.GetIncidentSources(orgID, models.SettingEntityOrg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get setting", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) putSettingHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	settingType, ok := settingTypes[chi.URLParam(r, "settingType")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown setting type", nil)
		return
	}

	switch settingType {
	case models.SettingTypeSyncWindow:
		var v store.SyncWindowSetting
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if v.Days <= 0 || v.Days > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365", nil)
			return
		}
		if err := s.settings.Set(orgID, models.SettingEntityOrg, settingType, v); err != nil {
			writeError(w, http.StatusInternalServerError, "store setting", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case models.SettingTypeIncidents:
		var v store.IncidentSourcesSetting
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := s.settings.Set(orgID, models.SettingEntityOrg, settingType, v); err != nil {
			writeError(w, http.StatusInternalServerError, "store setting", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
