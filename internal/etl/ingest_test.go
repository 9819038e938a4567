package etl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/providers"
)

func TestIngestConvergesWithPolling(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	started := merged.Add(time.Hour)
	n, err := h.Ingest(context.Background(), repo,
		[]providers.PullRequestRecord{prRecord(1, "pushed change", &merged, merged)},
		[]providers.WorkflowRunRecord{runRecord("r1", "success", started)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Pushed records land in the same tables a polling pass would have
	// written, but no bookmark moves: a push says nothing about the records
	// before it.
	prCount, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), prCount)

	b, err := stores.Bookmarks.Read(repo.OrgID, repo.ID, models.BookmarkKindPullRequest)
	require.NoError(t, err)
	assert.Nil(t, b)
	b, err = stores.Bookmarks.Read(repo.OrgID, repo.ID, models.BookmarkKindWorkflowRun)
	require.NoError(t, err)
	assert.Nil(t, b)

	deployCount, err := stores.Deployments.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deployCount)

	// Redelivery of the same payload is a no-op.
	_, err = h.Ingest(context.Background(), repo,
		[]providers.PullRequestRecord{prRecord(1, "pushed change", &merged, merged)}, nil, nil)
	require.NoError(t, err)
	prCount, err = stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), prCount)
}

func TestIngestLeavesPollingLowerBoundAlone(t *testing.T) {
	// Relative to now so the sync-window lower bound always predates both.
	olderMerged := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	pushedMerged := olderMerged.Add(48 * time.Hour)
	// The provider holds an older record that was never pushed.
	client := &fakeClient{prs: []providers.PullRequestRecord{
		prRecord(1, "never pushed", &olderMerged, olderMerged),
	}}
	h, stores, repo := setupHandler(t, client)

	_, err := h.Ingest(context.Background(), repo,
		[]providers.PullRequestRecord{prRecord(2, "pushed", &pushedMerged, pushedMerged)}, nil, nil)
	require.NoError(t, err)

	n, err := h.SyncPullRequests(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Polling still reaches back by the sync window, not to the pushed
	// record's timestamp, so the older record is fetched and persisted.
	require.Len(t, client.prSince, 1)
	assert.True(t, client.prSince[0].Before(olderMerged))

	count, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestPersistsAlertIncidents(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	acked := created.Add(10 * time.Minute)
	resolved := created.Add(2 * time.Hour)
	n, err := h.Ingest(context.Background(), repo, nil, nil, []providers.IncidentRecord{
		{
			ProviderKey: "pd-123",
			Title:       "checkout latency",
			Assignees:   []string{"oncall", "sre"},
			CreatedAt:   created,
			AckedAt:     &acked,
			ResolvedAt:  &resolved,
		},
		{ProviderKey: "pd-124", Title: "elevated 5xx", CreatedAt: created.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	incidents, err := stores.Incidents.ListInInterval(repo.OrgID, created.Add(-time.Hour), created.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, incidents, 2)

	first := incidents[0]
	assert.Equal(t, "pd-123", first.ProviderKey)
	assert.Equal(t, models.IncidentTypeAlert, first.Type)
	assert.Equal(t, models.IncidentStatusResolved, first.Status)
	assert.Equal(t, "oncall,sre", first.Assignees)
	require.NotNil(t, first.AckedAt)
	assert.True(t, first.AckedAt.Equal(acked))
	require.NotNil(t, first.ResolvedAt)
	assert.True(t, first.ResolvedAt.Equal(resolved))

	assert.Equal(t, models.IncidentStatusOpen, incidents[1].Status)
	assert.Nil(t, incidents[1].ResolvedAt)

	// Redelivery with a resolution upserts the existing row.
	_, err = h.Ingest(context.Background(), repo, nil, nil, []providers.IncidentRecord{
		{ProviderKey: "pd-124", Title: "elevated 5xx", CreatedAt: created.Add(time.Hour), ResolvedAt: &resolved},
	})
	require.NoError(t, err)
	count, err := stores.Incidents.CountForOrg(repo.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestRespectsAlertSourceSetting(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	require.NoError(t, stores.Settings.Set(repo.OrgID, models.SettingEntityOrg,
		models.SettingTypeIncidents, store.IncidentSourcesSetting{RevertPRs: true, Alerts: false}))

	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	n, err := h.Ingest(context.Background(), repo, nil, nil, []providers.IncidentRecord{
		{ProviderKey: "pd-123", Title: "checkout latency", CreatedAt: created},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "alert records dropped while the source is disabled")

	count, err := stores.Incidents.CountForOrg(repo.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	records := make([]providers.PullRequestRecord, MaxPayloadRecords+1)
	for i := range records {
		records[i] = prRecord(i+1, fmt.Sprintf("change %d", i+1), &merged, merged)
	}

	_, err := h.Ingest(context.Background(), repo, records, nil, nil)
	require.ErrorIs(t, err, ErrPayloadLimitExceeded)

	count, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "nothing persisted from a rejected payload")
}

func TestIngestRejectsInvalidRecordAtomically(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	merged := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	valid := prRecord(1, "good", &merged, merged)
	invalid := prRecord(0, "no number", nil, merged)

	_, err := h.Ingest(context.Background(), repo,
		[]providers.PullRequestRecord{valid, invalid}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidPayload)

	count, err := stores.PullRequests.CountForRepo(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "one bad record rejects the whole request")
}

func TestIngestRejectsRunWithoutID(t *testing.T) {
	h, _, repo := setupHandler(t, &fakeClient{})

	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	bad := runRecord("", "success", started)

	_, err := h.Ingest(context.Background(), repo, nil, []providers.WorkflowRunRecord{bad}, nil)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIngestRejectsIncidentWithoutKey(t *testing.T) {
	h, stores, repo := setupHandler(t, &fakeClient{})

	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := h.Ingest(context.Background(), repo, nil, nil, []providers.IncidentRecord{
		{Title: "no key", CreatedAt: created},
	})
	require.ErrorIs(t, err, ErrInvalidPayload)

	count, err := stores.Incidents.CountForOrg(repo.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
