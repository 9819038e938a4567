// Package etl implements the per-provider sync handlers: fetch new records
// since the bookmark, normalize them into internal entities, derive revert
// edges, and persist batch plus bookmark atomically.
package etl

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/providers"
)

// Stores bundles the persistence dependencies of a handler. DB is the root
// handle used to open the batch+bookmark transactions.
type Stores struct {
	DB           *gorm.DB
	Bookmarks    *store.BookmarkStore
	PullRequests *store.PullRequestStore
	WorkflowRuns *store.WorkflowRunStore
	Deployments  *store.DeploymentStore
	Incidents    *store.IncidentStore
	Settings     *store.SettingStore
}

// Handler syncs one provider's resources for tracked repositories. The same
// implementation serves every provider; provider differences live behind the
// providers.Client contract.
type Handler struct {
	provider models.Provider
	client   providers.Client
	stores   Stores
	logger   *slog.Logger
}

// NewHandler creates a handler for one provider.
func NewHandler(provider models.Provider, client providers.Client, stores Stores, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		provider: provider,
		client:   client,
		stores:   stores,
		logger:   logger.With("provider", string(provider)),
	}
}

// Provider returns the provider this handler serves.
func (h *Handler) Provider() models.Provider { return h.provider }

// CheckCredential verifies the stored credential still authorizes API access.
// Side-effect-free.
func (h *Handler) CheckCredential(ctx context.Context) error {
	return h.client.ValidateCredential(ctx)
}

// Registry maps providers to their handlers. Dispatch is an explicit lookup,
// never open-ended.
type Registry struct {
	handlers map[models.Provider]*Handler
}

// NewRegistry creates a registry over the given handlers.
func NewRegistry(handlers ...*Handler) *Registry {
	r := &Registry{handlers: make(map[models.Provider]*Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Provider()] = h
	}
	return r
}

// HandlerFor returns the handler for a provider, or false when none is
// configured.
func (r *Registry) HandlerFor(provider models.Provider) (*Handler, bool) {
	h, ok := r.handlers[provider]
	return h, ok
}

// Providers returns the configured providers.
func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	return out
}
