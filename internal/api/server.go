// Package api exposes the devpulse HTTP surface: organization and repository
// management, sync triggering and job inspection, settings, webhook ingestion,
// and the metric endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/metrics"
	devsync "github.com/devpulse/devpulse/internal/sync"
	"github.com/devpulse/devpulse/pkg/cache"
	"github.com/devpulse/devpulse/pkg/jobs"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	db            *gorm.DB
	orgs          *store.OrgStore
	bookmarks     *store.BookmarkStore
	settings      *store.SettingStore
	jobs          *jobs.JobStore
	registry      *etl.Registry
	orchestrator  *devsync.Orchestrator
	metrics       *metrics.Service
	cache         *cache.LRUCache
	webhookAPIKey string
	logger        *slog.Logger
}

// ServerDeps bundles the dependencies for NewServer.
type ServerDeps struct {
	DB            *gorm.DB
	Orgs          *store.OrgStore
	Bookmarks     *store.BookmarkStore
	Settings      *store.SettingStore
	Jobs          *jobs.JobStore
	Registry      *etl.Registry
	Orchestrator  *devsync.Orchestrator
	Metrics       *metrics.Service
	Cache         *cache.LRUCache
	WebhookAPIKey string
	Logger        *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:            deps.DB,
		orgs:          deps.Orgs,
		bookmarks:     deps.Bookmarks,
		settings:      deps.Settings,
		jobs:          deps.Jobs,
		registry:      deps.Registry,
		orchestrator:  deps.Orchestrator,
		metrics:       deps.Metrics,
		cache:         deps.Cache,
		webhookAPIKey: deps.WebhookAPIKey,
		logger:        logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/organizations", func(r chi.Router) {
			r.Post("/", s.createOrgHandler)
			r.Get("/", s.listOrgsHandler)

			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", s.getOrgHandler)
				r.Post("/repos", s.addRepoHandler)
				r.Get("/repos", s.listReposHandler)
				r.Get("/bookmarks", s.listBookmarksHandler)

				r.Post("/sync", s.triggerSyncHandler)
				r.Get("/jobs", s.listJobsHandler)

				r.Get("/settings/{settingType}", s.getSettingHandler)
				r.Put("/settings/{settingType}", s.putSettingHandler)

				r.Route("/metrics", func(r chi.Router) {
					r.Get("/lead-time", s.leadTimeHandler)
					r.Get("/deployments", s.deploymentsHandler)
					r.Get("/recovery", s.recoveryHandler)
				})

				r.With(s.requireAPIKey).Post("/repos/{repoID}/events", s.webhookHandler)
			})
		})

		r.Route("/repos/{repoID}", func(r chi.Router) {
			r.Patch("/sync-enabled", s.setSyncEnabledHandler)
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.getJobHandler)
			r.Post("/cancel", s.cancelJobHandler)
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyHandler reports ready only when the database answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database not reachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requireAPIKey guards push-style ingestion with the configured API key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.webhookAPIKey == "" || r.Header.Get("X-API-Key") != s.webhookAPIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseInterval reads the from/to query parameters as RFC 3339 timestamps,
// defaulting to the 30 days ending now.
func parseInterval(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' timestamp: %w", err)
		}
		to = t
		from = to.AddDate(0, 0, -30)
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' timestamp: %w", err)
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("'from' must be before 'to'")
	}
	return from, to, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errMsg := message
	if err != nil {
		errMsg = fmt.Sprintf("%s: %v", message, err)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": errMsg,
	})
}
