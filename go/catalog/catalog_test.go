package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	var cfg = Config{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "catalog.db")}

	var c, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, c.EnsureSchema(context.Background(), cfg.Driver))
	t.Cleanup(func() { c.Close() })
	return c
}

func testTiers() Tiers {
	return Tiers{
		HighThreshold:   1,
		NormalThreshold: 3,
		HighInterval:    7 * 24 * time.Hour,
		NormalInterval:  14 * 24 * time.Hour,
		LowInterval:     30 * 24 * time.Hour,
	}
}

func mustInsertSite(t *testing.T, c *Catalog, domain string, priority int) *Site {
	t.Helper()
	var site = &Site{Domain: domain, Priority: priority, Enabled: true}
	var _, err = c.InsertSite(context.Background(), site)
	require.NoError(t, err)
	return site
}

func TestSiteRoundTrip(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()

	var agency = "GSA"
	var site = &Site{Domain: "example.gov", Agency: &agency, Priority: 2, Enabled: true}
	id, err := c.InsertSite(ctx, site)
	require.NoError(t, err)
	require.NotZero(t, id)

	fetched, err := c.GetSiteByDomain(ctx, "example.gov")
	require.NoError(t, err)
	require.Equal(t, id, fetched.ID)
	require.Equal(t, "GSA", *fetched.Agency)
	require.Nil(t, fetched.LastCheckedAt)

	missing, err := c.GetSiteByDomain(ctx, "nope.gov")
	require.NoError(t, err)
	require.Nil(t, missing)

	// Domains are unique.
	_, err = c.InsertSite(ctx, &Site{Domain: "example.gov", Priority: 3, Enabled: true})
	require.Error(t, err)
}

func TestGetPendingSitesOrderingAndDueness(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var now = time.Now().UTC()
	var tiers = testTiers()

	// Never-checked sites are due immediately; priority orders them.
	var low = mustInsertSite(t, c, "low.gov", 5)
	var high = mustInsertSite(t, c, "high.gov", 1)
	var normal = mustInsertSite(t, c, "normal.gov", 3)

	// A high-priority site checked an hour ago is not yet due.
	var fresh = mustInsertSite(t, c, "fresh.gov", 1)
	require.NoError(t, c.TouchChecked(ctx, fresh.ID, now.Add(-time.Hour)))

	// A stale high-priority site past its interval is due again.
	var stale = mustInsertSite(t, c, "stale.gov", 1)
	require.NoError(t, c.TouchChecked(ctx, stale.ID, now.Add(-8*24*time.Hour)))

	pending, err := c.GetPendingSites(ctx, 10, now, tiers)
	require.NoError(t, err)

	var domains []string
	for _, s := range pending {
		domains = append(domains, s.Domain)
	}
	// NULLS FIRST within a priority, then the stale re-check.
	require.Equal(t, []string{"high.gov", "stale.gov", "normal.gov", "low.gov"}, domains)

	// The limit truncates in order.
	pending, err = c.GetPendingSites(ctx, 2, now, tiers)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "high.gov", pending[0].Domain)

	_ = low
	_ = normal
	_ = high
}

func TestGetPendingSitesSkipsOutstandingEntries(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var now = time.Now().UTC()

	var site = mustInsertSite(t, c, "busy.gov", 1)
	var _, err = c.InsertQueueEntry(ctx, &QueueEntry{
		SiteID: site.ID, Operation: OpCapture, Status: StatusPending,
		Priority: 1, ScheduledFor: now,
	})
	require.NoError(t, err)

	pending, err := c.GetPendingSites(ctx, 10, now, testTiers())
	require.NoError(t, err)
	require.Empty(t, pending)

	// A completed entry no longer blocks admission.
	entries, err := c.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, c.MarkEntryCompleted(ctx, entries[0].ID, now, ""))

	pending, err = c.GetPendingSites(ctx, 10, now, testTiers())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestTouchChangedPreservesOrderingInvariant(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var now = time.Now().UTC().Truncate(time.Second)

	var site = mustInsertSite(t, c, "example.gov", 3)
	require.NoError(t, c.TouchChanged(ctx, site.ID, now))

	fetched, err := c.GetSite(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.LastChangedAt)
	require.NotNil(t, fetched.LastCheckedAt)
	require.False(t, fetched.LastChangedAt.After(*fetched.LastCheckedAt))
}

func TestSnapshotHistory(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var site = mustInsertSite(t, c, "example.gov", 3)
	var base = time.Now().UTC().Truncate(time.Second)

	var ids []int64
	for i := 0; i < 3; i++ {
		var hash = fmt.Sprintf("hash-%d", i)
		var snap = &Snapshot{
			SiteID:           site.ID,
			CaptureTimestamp: base.Add(time.Duration(i) * time.Hour),
			ContentHash:      &hash,
			Metadata:         Metadata{"url": "https://example.gov", "attempt": float64(i)},
		}
		id, err := c.InsertSnapshot(ctx, snap)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	latest, err := c.LatestSnapshot(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, ids[2], latest.ID)
	require.Equal(t, "hash-2", *latest.ContentHash)
	require.Equal(t, float64(2), latest.Metadata["attempt"])

	prev, err := c.LatestSnapshotExcluding(ctx, site.ID, ids[2])
	require.NoError(t, err)
	require.Equal(t, ids[1], prev.ID)

	older, newer, err := c.LatestTwoSnapshots(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, ids[1], older.ID)
	require.Equal(t, ids[2], newer.ID)
}

func TestLatestTwoSnapshotsWithSparseHistory(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var site = mustInsertSite(t, c, "example.gov", 3)

	older, newer, err := c.LatestTwoSnapshots(ctx, site.ID)
	require.NoError(t, err)
	require.Nil(t, older)
	require.Nil(t, newer)

	var _, err2 = c.InsertSnapshot(ctx, &Snapshot{SiteID: site.ID, CaptureTimestamp: time.Now().UTC()})
	require.NoError(t, err2)

	older, newer, err = c.LatestTwoSnapshots(ctx, site.ID)
	require.NoError(t, err)
	require.Nil(t, older)
	require.NotNil(t, newer)
}

func TestDiffPairUniqueness(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var site = mustInsertSite(t, c, "example.gov", 3)
	var now = time.Now().UTC()

	a, err := c.InsertSnapshot(ctx, &Snapshot{SiteID: site.ID, CaptureTimestamp: now})
	require.NoError(t, err)
	b, err := c.InsertSnapshot(ctx, &Snapshot{SiteID: site.ID, CaptureTimestamp: now.Add(time.Hour)})
	require.NoError(t, err)

	exists, err := c.DiffExists(ctx, a, b)
	require.NoError(t, err)
	require.False(t, exists)

	var d = &Diff{
		SiteID: site.ID, OldSnapshotID: a, NewSnapshotID: b,
		DiffTimestamp: now, DiffPath: "/diffs/a_b/diff.json",
		Stats: DiffStats{Additions: 2, Deletions: 1, Total: 3}, Significance: 1,
	}
	id, err := c.InsertDiff(ctx, d)
	require.NoError(t, err)

	fetched, err := c.GetDiffByPair(ctx, a, b)
	require.NoError(t, err)
	require.Equal(t, id, fetched.ID)
	require.Equal(t, 3, fetched.Stats.Total)

	// The ordered pair is unique.
	_, err = c.InsertDiff(ctx, d)
	require.Error(t, err)
}

func TestQueueEntryStateMachine(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var site = mustInsertSite(t, c, "example.gov", 3)
	var now = time.Now().UTC().Truncate(time.Second)

	id, err := c.InsertQueueEntry(ctx, &QueueEntry{
		SiteID: site.ID, Operation: OpDiff, Status: StatusPending,
		Priority: 3, ScheduledFor: now,
	})
	require.NoError(t, err)

	entries, err := c.PendingDiffEntries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, c.MarkEntryInProgress(ctx, id, now))
	entries, err = c.PendingDiffEntries(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, entries)

	outstanding, err := c.HasOutstandingEntry(ctx, site.ID, OpDiff)
	require.NoError(t, err)
	require.True(t, outstanding)

	require.NoError(t, c.MarkEntryFailed(ctx, id, "boom"))
	outstanding, err = c.HasOutstandingEntry(ctx, site.ID, OpDiff)
	require.NoError(t, err)
	require.False(t, outstanding)

	all, err := c.PendingEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	var c = testCatalog(t)
	var ctx = context.Background()
	var site = mustInsertSite(t, c, "example.gov", 3)

	var boom = fmt.Errorf("boom")
	var err = c.WithTx(ctx, func(q *Queries) error {
		var _, err = q.InsertQueueEntry(ctx, &QueueEntry{
			SiteID: site.ID, Operation: OpCapture, Status: StatusPending,
			Priority: 1, ScheduledFor: time.Now().UTC(),
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := c.PendingEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}
