package correlation

import (
	"fmt"

	"github.com/devpulse/devpulse/internal/db/models"
)

// RevertIncidents synthesizes incidents from revert edges. For each mapping
// where both PRs are merged, the incident opens at the original PR's merge
// time and resolves at the revert PR's merge time. The provider key is
// deterministic, so re-running over the same mappings upserts the same rows.
//
// Mappings whose PRs are missing or not yet merged are skipped: they will be
// picked up once a later sync observes the merges.
func RevertIncidents(orgID string, mappings []models.PullRequestRevertMapping, prsByID map[string]models.PullRequest) []models.Incident {
	var incidents []models.Incident
	for _, mapping := range mappings {
		revert, ok := prsByID[mapping.RevertPRID]
		if !ok || revert.MergedAt == nil {
			continue
		}
		original, ok := prsByID[mapping.OriginalPRID]
		if !ok || original.MergedAt == nil {
			continue
		}

		resolvedAt := *revert.MergedAt
		incidents = append(incidents, models.Incident{
			OrgID:       orgID,
			OrgRepoID:   mapping.OrgRepoID,
			ProviderKey: fmt.Sprintf("revert:%s:%s", mapping.RevertPRID, mapping.OriginalPRID),
			Title:       fmt.Sprintf("Revert of PR #%d by PR #%d", original.Number, revert.Number),
			Status:      models.IncidentStatusResolved,
			Type:        models.IncidentTypeRevertPR,
			Assignees:   revert.Author,
			CreationAt:  *original.MergedAt,
			ResolvedAt:  &resolvedAt,
		})
	}
	return incidents
}
