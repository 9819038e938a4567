// Package correlation derives synthetic entities from synced data: revert-PR
// edges, revert-derived incidents, and merge-to-deploy deployments.
package correlation

import (
	"log/slog"
	"regexp"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/devpulse/devpulse/internal/db/models"
)

// refPatterns match a revert reference to another PR in the same repo.
// Supported forms, case-insensitive: issue-style "#1234", "fix(1234)",
// "fix-1234". The surrounding text must also match revertWord.
var (
	revertWord  = regexp.MustCompile(`(?i)\brevert`)
	refPatterns = []*regexp.Regexp{
		regexp.MustCompile(`#(\d+)`),
		regexp.MustCompile(`(?i)\bfix\((\d+)\)`),
		regexp.MustCompile(`(?i)\bfix-(\d+)`),
	}
)

// RevertCandidate is a PR that looks like a revert, before the referenced
// number has been resolved against the repository's persisted PRs.
type RevertCandidate struct {
	RevertPR         models.PullRequest
	ReferencedNumber int
}

// DetectRevertCandidates scans a batch of PRs for revert references. The scan
// is a pure function over its input: no lookup, no side effects. A PR whose
// title or body references several numbers yields one candidate per distinct
// number.
func DetectRevertCandidates(prs []models.PullRequest) []RevertCandidate {
	var candidates []RevertCandidate
	for _, pr := range prs {
		text := pr.Title + "\n" + pr.Body
		if !revertWord.MatchString(text) {
			continue
		}

		seen := mapset.NewSet[int]()
		for _, pattern := range refPatterns {
			for _, match := range pattern.FindAllStringSubmatch(text, -1) {
				number, err := strconv.Atoi(match[1])
				if err != nil || number == pr.Number {
					continue
				}
				if seen.Add(number) {
					candidates = append(candidates, RevertCandidate{
						RevertPR:         pr,
						ReferencedNumber: number,
					})
				}
			}
		}
	}
	return candidates
}

// ResolveRevertMappings resolves candidates against the PRs known in the same
// repository, producing deduplicated (revert, original) edges. References are
// scoped strictly within one repository; a reference to an unknown number is
// dropped and logged, never guessed. Resolving the same candidates twice
// yields the identical edge set.
func ResolveRevertMappings(candidates []RevertCandidate, byNumber map[int]models.PullRequest, logger *slog.Logger) []models.PullRequestRevertMapping {
	if logger == nil {
		logger = slog.Default()
	}

	edges := mapset.NewSet[[2]string]()
	var mappings []models.PullRequestRevertMapping
	for _, cand := range candidates {
		original, ok := byNumber[cand.ReferencedNumber]
		if !ok {
			logger.Info("revert reference resolves to no known PR, dropping",
				"repoID", cand.RevertPR.OrgRepoID,
				"revertPR", cand.RevertPR.Number,
				"referenced", cand.ReferencedNumber)
			continue
		}
		if original.ID == cand.RevertPR.ID {
			continue
		}

		if !edges.Add([2]string{cand.RevertPR.ID, original.ID}) {
			continue
		}
		mappings = append(mappings, models.PullRequestRevertMapping{
			RevertPRID:   cand.RevertPR.ID,
			OriginalPRID: original.ID,
			OrgRepoID:    cand.RevertPR.OrgRepoID,
		})
	}
	return mappings
}
