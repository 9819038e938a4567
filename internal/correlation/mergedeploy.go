package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
)

// MergeToDeploy synthesizes deployments for repositories whose deployment
// mechanism is a PR merge rather than an explicit workflow run. It must run
// after code sync and before incident sync: incident correlation that derives
// recovery times needs deployments already materialized.
type MergeToDeploy struct {
	prs         *store.PullRequestStore
	deployments *store.DeploymentStore
	logger      *slog.Logger
}

// NewMergeToDeploy creates a new MergeToDeploy correlator.
func NewMergeToDeploy(prs *store.PullRequestStore, deployments *store.DeploymentStore, logger *slog.Logger) *MergeToDeploy {
	if logger == nil {
		logger = slog.Default()
	}
	return &MergeToDeploy{prs: prs, deployments: deployments, logger: logger}
}

// Run materializes deployments for one repository. Only repos configured with
// the PR_MERGE deployment source participate; each qualifying merged PR not
// yet represented becomes a SUCCESS deployment conducted at its merge time.
// The deterministic deployment identity makes re-running a no-op.
func (m *MergeToDeploy) Run(ctx context.Context, repo models.OrgRepo) (int, error) {
	if repo.DeploymentSource != models.DeploymentSourcePRMerge {
		return 0, nil
	}

	pending, err := m.prs.ListMergedWithoutDeployment(repo.ID)
	if err != nil {
		return 0, fmt.Errorf("select undeployed merges: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	deployments := make([]models.Deployment, 0, len(pending))
	for _, pr := range pending {
		if pr.MergedAt == nil {
			// State says merged but the merge time never synced; skip the
			// record rather than fabricate a deploy time.
			m.logger.Warn("merged PR without merge time, skipping deploy synthesis",
				"repoID", repo.ID, "pr", pr.Number)
			continue
		}
		deployments = append(deployments, models.Deployment{
			OrgRepoID:   repo.ID,
			Source:      models.DeploymentSourcePRMerge,
			EntityID:    pr.ID,
			Status:      models.DeploymentStatusSuccess,
			ConductedAt: *pr.MergedAt,
			HeadBranch:  pr.BaseBranch,
		})
	}

	if err := m.deployments.UpsertBatch(deployments); err != nil {
		return 0, err
	}

	m.logger.Info("merge-to-deploy materialized deployments",
		"repoID", repo.ID, "count", len(deployments))
	return len(deployments), nil
}
