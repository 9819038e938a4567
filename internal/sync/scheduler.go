package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/pkg/jobs"
)

// Scheduler enqueues a periodic sync job for every organization and
// configured provider. It runs only on the leader replica; the idempotency
// key keeps a slow pass from stacking duplicate jobs behind itself.
type Scheduler struct {
	orgs     *store.OrgStore
	jobs     *jobs.JobStore
	registry *etl.Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler enqueuing one pass per interval.
func NewScheduler(orgs *store.OrgStore, jobStore *jobs.JobStore, registry *etl.Registry, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{orgs: orgs, jobs: jobStore, registry: registry, interval: interval, logger: logger}
}

// Run enqueues until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sync scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.enqueueAll()
		}
	}
}

func (s *Scheduler) enqueueAll() {
	orgs, err := s.orgs.ListOrgs()
	if err != nil {
		s.logger.Error("scheduler could not list organizations", "error", err)
		return
	}

	for _, org := range orgs {
		for _, provider := range s.registry.Providers() {
			repos, err := s.orgs.ListRepos(org.ID, provider, true)
			if err != nil {
				s.logger.Error("scheduler could not list repos", "orgID", org.ID, "error", err)
				continue
			}
			if len(repos) == 0 {
				continue
			}

			job := &jobs.SyncJob{
				OrgID:          org.ID,
				Provider:       string(provider),
				RequestedBy:    "scheduler",
				RequestedAt:    time.Now(),
				IdempotencyKey: fmt.Sprintf("sync:%s:%s", org.ID, provider),
			}
			if _, err := s.jobs.Enqueue(job); err != nil {
				s.logger.Error("scheduler enqueue failed",
					"orgID", org.ID, "provider", string(provider), "error", err)
			}
		}
	}
}
