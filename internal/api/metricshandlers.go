package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devpulse/devpulse/internal/metrics"
)

// cachedMetric serves a metric response from the cache when present, computing
// and storing it otherwise. Keys are prefixed with the org so a completed sync
// pass can invalidate exactly that org's entries.
func (s *Server) cachedMetric(w http.ResponseWriter, r *http.Request, orgID string, compute func() (any, error)) {
	key := fmt.Sprintf("org:%s:%s?%s", orgID, r.URL.Path, r.URL.RawQuery)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	result, err := compute()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "compute metric", err)
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode metric", err)
		return
	}
	if s.cache != nil {
		s.cache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// repoIDsForOrg resolves the repo scope of a metric query: every tracked repo
// of the org, or the subset named by the repo query parameter.
func (s *Server) repoIDsForOrg(r *http.Request, orgID string) ([]string, error) {
	repos, err := s.orgs.ListRepos(orgID, "", false)
	if err != nil {
		return nil, err
	}

	requested := r.URL.Query()["repo"]
	if len(requested) == 0 {
		ids := make([]string, 0, len(repos))
		for _, repo := range repos {
			ids = append(ids, repo.ID)
		}
		return ids, nil
	}

	known := make(map[string]string, len(repos))
	for _, repo := range repos {
		known[repo.Name] = repo.ID
		known[repo.ID] = repo.ID
	}
	var ids []string
	for _, want := range requested {
		id, ok := known[want]
		if !ok {
			return nil, fmt.Errorf("unknown repo %q", want)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) leadTimeHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	from, to, err := parseInterval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval", err)
		return
	}
	repoIDs, err := s.repoIDsForOrg(r, orgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "resolve repos", err)
		return
	}

	s.cachedMetric(w, r, orgID, func() (any, error) {
		return s.metrics.LeadTime(r.Context(), repoIDs, from, to)
	})
}

func (s *Server) deploymentsHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	from, to, err := parseInterval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval", err)
		return
	}
	bucket, err := metrics.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bucket", err)
		return
	}
	repoIDs, err := s.repoIDsForOrg(r, orgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "resolve repos", err)
		return
	}

	s.cachedMetric(w, r, orgID, func() (any, error) {
		return s.metrics.Deployments(r.Context(), repoIDs, from, to, bucket)
	})
}

func (s *Server) recoveryHandler(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	from, to, err := parseInterval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval", err)
		return
	}

	s.cachedMetric(w, r, orgID, func() (any, error) {
		return s.metrics.Recovery(r.Context(), orgID, from, to)
	})
}
