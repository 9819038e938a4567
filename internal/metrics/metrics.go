// Package metrics computes the delivery metrics served by the API: lead time
// and its segments, deployment frequency, change failure rate, and mean time
// to recovery. All computations read persisted entities only; nothing here
// talks to a provider.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
)

// Bucket is the granularity of a deployment frequency series.
type Bucket string

const (
	BucketDaily   Bucket = "daily"
	BucketWeekly  Bucket = "weekly"
	BucketMonthly Bucket = "monthly"
)

// ParseBucket validates a bucket string, defaulting empty to weekly.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case "":
		return BucketWeekly, nil
	case BucketDaily, BucketWeekly, BucketMonthly:
		return Bucket(s), nil
	default:
		return "", fmt.Errorf("unknown bucket %q", s)
	}
}

// LeadTime is the averaged pull request journey over an interval, in seconds
// per segment. Segments average only over the PRs that have them; TotalSecs is
// the sum of the segment averages. PRCount is the merged PR population.
type LeadTime struct {
	PRCount               int     `json:"prCount"`
	FirstCommitToOpenSecs float64 `json:"firstCommitToOpenSecs"`
	FirstResponseSecs     float64 `json:"firstResponseSecs"`
	ReworkSecs            float64 `json:"reworkSecs"`
	MergeSecs             float64 `json:"mergeSecs"`
	MergeToDeploySecs     float64 `json:"mergeToDeploySecs"`
	TotalSecs             float64 `json:"totalSecs"`
}

// FrequencyPoint is one bucket of the deployment frequency series.
type FrequencyPoint struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// DeploymentStats summarizes deployments over an interval.
type DeploymentStats struct {
	Total    int              `json:"total"`
	Failures int              `json:"failures"`
	CFR      float64          `json:"cfr"`
	Series   []FrequencyPoint `json:"series"`
}

// Recovery summarizes incident recovery over an interval. Unresolved
// incidents are counted but excluded from the mean.
type Recovery struct {
	Incidents  int     `json:"incidents"`
	Resolved   int     `json:"resolved"`
	Unresolved int     `json:"unresolved"`
	MTTRSecs   float64 `json:"mttrSecs"`
}

// Service computes metrics from the persisted entity stores.
type Service struct {
	prs         *store.PullRequestStore
	deployments *store.DeploymentStore
	incidents   *store.IncidentStore
	logger      *slog.Logger
}

// NewService creates a metrics service.
func NewService(prs *store.PullRequestStore, deployments *store.DeploymentStore, incidents *store.IncidentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{prs: prs, deployments: deployments, incidents: incidents, logger: logger}
}

// LeadTime computes the averaged PR journey for repos over [from, to). The
// merge-to-deploy segment is resolved per PR as the gap to the first
// deployment at or after its merge; PRs whose deployment has not happened yet
// are excluded from that segment only.
func (s *Service) LeadTime(ctx context.Context, repoIDs []string, from, to time.Time) (LeadTime, error) {
	var out LeadTime
	prs, err := s.prs.ListMergedInInterval(repoIDs, from, to)
	if err != nil {
		return out, err
	}
	out.PRCount = len(prs)
	if len(prs) == 0 {
		return out, nil
	}

	var sums [5]float64
	var counts [5]int
	addSegment := func(i int, v *int64) {
		if v == nil {
			return
		}
		sums[i] += float64(*v)
		counts[i]++
	}

	for _, pr := range prs {
		addSegment(0, pr.FirstCommitToOpenSecs)
		addSegment(1, pr.FirstResponseSecs)
		addSegment(2, pr.ReworkSecs)
		addSegment(3, pr.MergeSecs)

		if pr.MergedAt == nil {
			continue
		}
		deploy, err := s.deployments.FirstAfter(pr.OrgRepoID, *pr.MergedAt)
		if err != nil {
			return out, err
		}
		if deploy != nil {
			secs := int64(deploy.ConductedAt.Sub(*pr.MergedAt) / time.Second)
			addSegment(4, &secs)
		}
	}

	avg := func(i int) float64 {
		if counts[i] == 0 {
			return 0
		}
		return sums[i] / float64(counts[i])
	}
	out.FirstCommitToOpenSecs = avg(0)
	out.FirstResponseSecs = avg(1)
	out.ReworkSecs = avg(2)
	out.MergeSecs = avg(3)
	out.MergeToDeploySecs = avg(4)
	out.TotalSecs = out.FirstCommitToOpenSecs + out.FirstResponseSecs + out.ReworkSecs + out.MergeSecs + out.MergeToDeploySecs
	return out, nil
}

// Deployments computes the frequency series and change failure rate for repos
// over [from, to). CFR is failed deployments over all deployments as a
// percentage; an interval with no deployments reports 0, not NaN.
func (s *Service) Deployments(ctx context.Context, repoIDs []string, from, to time.Time, bucket Bucket) (DeploymentStats, error) {
	var out DeploymentStats
	deployments, err := s.deployments.ListInInterval(repoIDs, from, to)
	if err != nil {
		return out, err
	}

	out.Total = len(deployments)
	for _, d := range deployments {
		if d.Status == models.DeploymentStatusFailure {
			out.Failures++
		}
	}
	if out.Total > 0 {
		out.CFR = float64(out.Failures) / float64(out.Total) * 100
	}
	out.Series = bucketize(deployments, from, to, bucket)
	return out, nil
}

// Recovery computes incident counts and MTTR for an org over [from, to).
func (s *Service) Recovery(ctx context.Context, orgID string, from, to time.Time) (Recovery, error) {
	var out Recovery
	incidents, err := s.incidents.ListInInterval(orgID, from, to)
	if err != nil {
		return out, err
	}

	var totalSecs float64
	for _, inc := range incidents {
		out.Incidents++
		if inc.ResolvedAt == nil {
			out.Unresolved++
			continue
		}
		out.Resolved++
		totalSecs += inc.ResolvedAt.Sub(inc.CreationAt).Seconds()
	}
	if out.Resolved > 0 {
		out.MTTRSecs = totalSecs / float64(out.Resolved)
	}
	return out, nil
}

// bucketize folds deployments into fixed time buckets covering [from, to).
// Every bucket in the interval appears, including empty ones, so a sparse
// series still renders a continuous chart.
func bucketize(deployments []models.Deployment, from, to time.Time, bucket Bucket) []FrequencyPoint {
	start := bucketStart(from, bucket)
	var points []FrequencyPoint
	index := make(map[time.Time]int)
	for cursor := start; cursor.Before(to); cursor = bucketNext(cursor, bucket) {
		index[cursor] = len(points)
		points = append(points, FrequencyPoint{Start: cursor})
	}
	for _, d := range deployments {
		if i, ok := index[bucketStart(d.ConductedAt, bucket)]; ok {
			points[i].Count++
		}
	}
	return points
}

func bucketStart(t time.Time, bucket Bucket) time.Time {
	t = t.UTC()
	switch bucket {
	case BucketDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case BucketMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		// Weeks start Monday.
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
}

func bucketNext(t time.Time, bucket Bucket) time.Time {
	switch bucket {
	case BucketDaily:
		return t.AddDate(0, 0, 1)
	case BucketMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 7)
	}
}
