// Package sync implements the org-level sync orchestrator: a fixed sequence
// of stages over every sync-enabled repository, with per-org serialization
// and per-stage failure isolation.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/providers"
	"github.com/devpulse/devpulse/pkg/cache"
	"github.com/devpulse/devpulse/pkg/jobs"
)

// Stage names, in their one valid execution order. Code sync must precede
// workflow sync only by convention, but merge-to-deploy strictly requires
// merged PRs and incident correlation strictly requires both revert edges and
// deployments, so the tail order is a hard dependency.
const (
	StageCode          = "sync-code"
	StageWorkflows     = "sync-workflows"
	StageMergeToDeploy = "merge-to-deploy"
	StageIncidents     = "sync-incidents"
)

var stageSequence = []string{StageCode, StageWorkflows, StageMergeToDeploy, StageIncidents}

// Orchestrator runs the stage sequence for one organization at a time per
// org. It satisfies jobs.OrgSyncer.
type Orchestrator struct {
	registry *etl.Registry
	orgs     *store.OrgStore
	deploy   *correlation.MergeToDeploy
	locks    *orgLock
	cache    *cache.LRUCache
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. The cache is optional; when set,
// a completed pass invalidates the org's cached metric responses.
func NewOrchestrator(registry *etl.Registry, orgs *store.OrgStore, deploy *correlation.MergeToDeploy, metricsCache *cache.LRUCache, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		orgs:     orgs,
		deploy:   deploy,
		locks:    newOrgLock(),
		cache:    metricsCache,
		logger:   logger,
	}
}

// Busy reports whether a sync pass is currently running for an org.
func (o *Orchestrator) Busy(orgID string) bool { return o.locks.Busy(orgID) }

// SyncOrg runs one full sync pass for an organization and provider. The pass
// is rejected outright when the org already has one running, and starts with
// a side-effect-free credential check so a revoked token aborts before any
// fetch. A stage failing for one repository is logged and counted but never
// stops the remaining repositories or stages; only an invalid credential
// aborts a running pass, since every remaining provider call would fail
// identically.
func (o *Orchestrator) SyncOrg(ctx context.Context, orgID, provider string) (jobs.SyncOutcome, error) {
	start := time.Now()
	var outcome jobs.SyncOutcome

	if err := o.locks.TryLock(orgID); err != nil {
		return outcome, err
	}
	defer o.locks.Unlock(orgID)

	prov := models.Provider(provider)
	handler, ok := o.registry.HandlerFor(prov)
	if !ok {
		return outcome, fmt.Errorf("no handler configured for provider %q", provider)
	}

	if err := handler.CheckCredential(ctx); err != nil {
		outcome.Duration = time.Since(start)
		return outcome, fmt.Errorf("credential check for %s: %w", provider, err)
	}

	repos, err := o.orgs.ListRepos(orgID, prov, true)
	if err != nil {
		return outcome, err
	}
	if len(repos) == 0 {
		o.logger.Info("no sync-enabled repositories, skipping pass", "orgID", orgID, "provider", provider)
		outcome.Duration = time.Since(start)
		return outcome, nil
	}
	outcome.ReposSynced = len(repos)

	for _, stageName := range stageSequence {
		for _, repo := range repos {
			count, err := o.runStage(ctx, stageName, handler, repo)
			if err != nil {
				if errors.Is(err, providers.ErrInvalidCredential) {
					outcome.Duration = time.Since(start)
					return outcome, fmt.Errorf("stage %s for %s: %w", stageName, repo.Name, err)
				}
				outcome.StagesFailed++
				o.logger.Error("sync stage failed",
					"orgID", orgID, "repoID", repo.ID, "stage", stageName, "error", err)
				continue
			}
			o.logger.Info("sync stage complete",
				"orgID", orgID, "repoID", repo.ID, "stage", stageName, "records", count)
		}
	}

	if o.cache != nil {
		o.cache.InvalidatePrefix("org:" + orgID + ":")
	}

	outcome.Duration = time.Since(start)
	o.logger.Info("sync pass complete",
		"orgID", orgID, "provider", provider,
		"repos", outcome.ReposSynced, "stagesFailed", outcome.StagesFailed,
		"duration", outcome.Duration.String())
	return outcome, nil
}

// runStage dispatches one stage for one repository. Dispatch is a closed
// switch over the declared sequence; an unknown stage name is a programming
// error surfaced loudly rather than skipped.
func (o *Orchestrator) runStage(ctx context.Context, stageName string, handler *etl.Handler, repo models.OrgRepo) (int, error) {
	switch stageName {
	case StageCode:
		return handler.SyncPullRequests(ctx, repo)
	case StageWorkflows:
		return handler.SyncWorkflowRuns(ctx, repo)
	case StageMergeToDeploy:
		return o.deploy.Run(ctx, repo)
	case StageIncidents:
		return handler.SyncIncidents(ctx, repo)
	default:
		return 0, fmt.Errorf("unknown sync stage %q", stageName)
	}
}
