package crawler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/queue"
)

// DetectChange compares a just-written snapshot against its predecessor by
// content fingerprint. When they differ it records the change on the site,
// durably schedules diff generation, and enqueues the diff job, reporting
// whether a change was detected. The first snapshot of a site is never a
// change.
func DetectChange(ctx context.Context, cat *catalog.Catalog, broker *queue.Broker,
	site *catalog.Site, snap *catalog.Snapshot) (bool, error) {

	var logger = log.WithFields(log.Fields{"site": site.ID, "snapshot": snap.ID})
	var now = time.Now().UTC()

	var prev, err = cat.LatestSnapshotExcluding(ctx, site.ID, snap.ID)
	if err != nil {
		return false, &CaptureError{Kind: KindCatalog, Err: err}
	}
	if prev == nil {
		logger.Debug("first snapshot of site; no change detection")
		return false, cat.TouchChecked(ctx, site.ID, now)
	}

	if prev.ContentHash != nil && snap.ContentHash != nil && *prev.ContentHash == *snap.ContentHash {
		logger.Debug("content unchanged")
		return false, cat.TouchChecked(ctx, site.ID, now)
	}

	// At most one diff entry may be pending or in progress per site. An
	// undrained entry already covers this change: the pair is resolved as
	// the site's latest two snapshots at drain time.
	outstanding, err := cat.HasOutstandingEntry(ctx, site.ID, catalog.OpDiff)
	if err != nil {
		return false, &CaptureError{Kind: KindCatalog, Err: err}
	}
	if outstanding {
		logger.Info("content changed; diff already scheduled")
		return true, cat.TouchChanged(ctx, site.ID, now)
	}

	// Content changed: the site timestamps and the durable diff entry must
	// land together.
	var entry = &catalog.QueueEntry{
		SiteID:       site.ID,
		Operation:    catalog.OpDiff,
		Status:       catalog.StatusPending,
		Priority:     3,
		ScheduledFor: now,
	}
	err = cat.WithTx(ctx, func(q *catalog.Queries) error {
		if err := q.TouchChanged(ctx, site.ID, now); err != nil {
			return err
		}
		var _, err = q.InsertQueueEntry(ctx, entry)
		return err
	})
	if err != nil {
		return false, &CaptureError{Kind: KindCatalog, Err: err}
	}

	if _, err = broker.Enqueue(queue.Diffs, queue.DiffPayload{
		SiteID:        site.ID,
		OldSnapshotID: prev.ID,
		NewSnapshotID: snap.ID,
		EntryID:       entry.ID,
	}, entry.Priority); err != nil {
		// The durable entry survives; a scheduler pass will re-dispatch it.
		logger.WithField("err", err).Error("failed to enqueue diff job")
	}

	logger.WithField("previous", prev.ID).Info("content changed; diff scheduled")
	return true, nil
}
