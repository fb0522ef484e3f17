// Package scheduler runs the process-wide control loop: each tick it admits
// due sites up to the concurrency budget, dispatches capture jobs onto
// worker goroutines, and drains a bounded batch of pending diff entries.
// Scheduling state is anchored in the catalog; the in-memory queues only
// order dispatch within a single process.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/crawler"
	"github.com/govwatch/archive/go/diff"
	"github.com/govwatch/archive/go/queue"
)

// diffBatchSize bounds diff entries drained per tick.
const diffBatchSize = 5

// lockName is the distributed lock serializing scheduling ticks across
// instances.
const lockName = "scheduler"

// CaptureFunc executes one capture cycle for a site and reports whether a
// content change was detected. Injected so capture execution stays a
// swappable capability.
type CaptureFunc func(ctx context.Context, site *catalog.Site) (changed bool, err error)

// DiffHook observes every successfully generated diff.
type DiffHook func(ctx context.Context, d *catalog.Diff)

// Scheduler owns the periodic scheduling loop.
type Scheduler struct {
	catalog    *catalog.Catalog
	broker     *queue.Broker
	engine     *diff.Engine
	locker     *queue.Locker // nil in single-instance deployments
	capture    CaptureFunc
	cfg        Config
	maxRetries int

	// OnDiff, when set before Run, is invoked for each generated diff.
	OnDiff DiffHook

	mu     sync.Mutex
	active map[int64]struct{}
	wg     sync.WaitGroup

	// workCtx, set by Run, is the context capture workers run on. It
	// outlives the run context by the shutdown grace window so a stop
	// signal doesn't abort captures mid-snapshot.
	workCtx context.Context
}

// NewScheduler assembles a scheduler. |maxRetries| is the retry budget
// applied to requeued capture jobs.
func NewScheduler(cat *catalog.Catalog, broker *queue.Broker, engine *diff.Engine,
	locker *queue.Locker, capture CaptureFunc, cfg Config, maxRetries int) *Scheduler {
	return &Scheduler{
		catalog:    cat,
		broker:     broker,
		engine:     engine,
		locker:     locker,
		capture:    capture,
		cfg:        cfg,
		maxRetries: maxRetries,
		active:     make(map[int64]struct{}),
	}
}

// Run recovers interrupted work, then ticks until |ctx| is cancelled.
// Cancellation stops new dispatch immediately; in-flight captures keep
// running on a detached context and are given the shutdown grace window
// to finish their current snapshot before being cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("recovering queued work: %w", err)
	}

	var workCtx, cancelWork = context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	s.workCtx = workCtx

	var ticker = time.NewTicker(s.cfg.ProcessingInterval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval":    s.cfg.ProcessingInterval,
		"maxCaptures": s.cfg.MaxConcurrentCrawls,
	}).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.WithField("grace", s.cfg.ShutdownGrace).
				Info("scheduler stopping; draining in-flight captures")
			s.drainWorkers(cancelWork)
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// drainWorkers waits for in-flight captures to finish, cancelling whatever
// is still running once the grace window elapses.
func (s *Scheduler) drainWorkers(cancelWork context.CancelFunc) {
	var done = make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		log.Warn("shutdown grace elapsed; cancelling in-flight captures")
		cancelWork()
		<-done
	}
}

// Tick runs one scheduling pass. When a distributed lock is configured and
// another instance holds it, the tick is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.locker != nil {
		var token, err = s.locker.Acquire(ctx, lockName, 0, s.cfg.ProcessingInterval)
		if err != nil || token == "" {
			if err != nil {
				log.WithField("err", err).Warn("scheduler lock unavailable; skipping tick")
			}
			return
		}
		defer s.locker.Release(ctx, lockName, token)
	}

	s.admitSites(ctx)
	s.dispatchCaptures(ctx)
	s.drainDiffs(ctx)

	queueDepthGauge.WithLabelValues(queue.Captures).Set(float64(s.broker.Stats(queue.Captures).Pending))
	queueDepthGauge.WithLabelValues(queue.Diffs).Set(float64(s.broker.Stats(queue.Diffs).Pending))
}

// admitSites enqueues due sites up to the available concurrency budget,
// writing the durable queue entry and the in-memory job together.
func (s *Scheduler) admitSites(ctx context.Context) {
	var available = s.cfg.MaxConcurrentCrawls - s.activeCount()
	if available <= 0 {
		return
	}

	var sites, err = s.catalog.GetPendingSites(ctx, available, time.Now().UTC(), s.cfg.Tiers())
	if err != nil {
		log.WithField("err", err).Error("querying pending sites")
		return
	}

	for _, site := range sites {
		var entry = &catalog.QueueEntry{
			SiteID:       site.ID,
			Operation:    catalog.OpCapture,
			Status:       catalog.StatusPending,
			Priority:     s.cfg.Tiers().QueuePriority(site.Priority),
			ScheduledFor: time.Now().UTC(),
		}
		err = s.catalog.WithTx(ctx, func(q *catalog.Queries) error {
			var _, err = q.InsertQueueEntry(ctx, entry)
			return err
		})
		if err != nil {
			log.WithFields(log.Fields{"site": site.ID, "err": err}).Error("recording capture entry")
			continue
		}
		if _, err = s.broker.Enqueue(queue.Captures, queue.CapturePayload{
			SiteID:  site.ID,
			Domain:  site.Domain,
			EntryID: entry.ID,
		}, entry.Priority); err != nil {
			log.WithFields(log.Fields{"site": site.ID, "err": err}).Error("enqueuing capture job")
		}
	}
}

// dispatchCaptures starts worker goroutines for queued capture jobs while
// slots remain.
func (s *Scheduler) dispatchCaptures(ctx context.Context) {
	var workCtx = s.workCtx
	if workCtx == nil {
		workCtx = ctx
	}

	for s.activeCount() < s.cfg.MaxConcurrentCrawls {
		var job = s.broker.Next(queue.Captures)
		if job == nil {
			return
		}

		var payload queue.CapturePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.WithFields(log.Fields{"job": job.ID, "err": err}).Error("undecodable capture payload")
			s.broker.Fail(queue.Captures, job.ID, err, false, 0)
			continue
		}

		s.markActive(payload.SiteID)
		s.wg.Add(1)
		capturesStartedCounter.Inc()

		go func(job *queue.Job, payload queue.CapturePayload) {
			defer s.wg.Done()
			defer s.markIdle(payload.SiteID)
			s.runCapture(workCtx, job, payload)
		}(job, payload)
	}
}

// runCapture executes one capture job and settles both its broker job and
// its durable entry.
func (s *Scheduler) runCapture(ctx context.Context, job *queue.Job, payload queue.CapturePayload) {
	var now = time.Now().UTC()
	var logger = log.WithFields(log.Fields{"site": payload.SiteID, "job": job.ID})

	if err := s.catalog.MarkEntryInProgress(ctx, payload.EntryID, now); err != nil {
		logger.WithField("err", err).Error("marking capture entry in progress")
	}

	var site, err = s.catalog.GetSite(ctx, payload.SiteID)
	if err == nil && site == nil {
		err = fmt.Errorf("site %d no longer exists", payload.SiteID)
	}

	var changed bool
	if err == nil {
		changed, err = s.capture(ctx, site)
	}

	switch {
	case err == nil:
		s.broker.Complete(queue.Captures, job.ID)
		if markErr := s.catalog.MarkEntryCompleted(ctx, payload.EntryID, time.Now().UTC(), ""); markErr != nil {
			logger.WithField("err", markErr).Error("marking capture entry completed")
		}
		if changed {
			changesDetectedCounter.Inc()
		}
		capturesHandledCounter.WithLabelValues("success").Inc()

	case crawler.KindOf(err) == crawler.KindRemote:
		// The site responded with an error status: this cycle is over, and
		// the entry completes with a note rather than failing the site.
		s.broker.Complete(queue.Captures, job.ID)
		if markErr := s.catalog.MarkEntryCompleted(ctx, payload.EntryID, time.Now().UTC(), err.Error()); markErr != nil {
			logger.WithField("err", markErr).Error("marking capture entry completed")
		}
		capturesHandledCounter.WithLabelValues("remote").Inc()
		logger.WithField("err", err).Warn("capture ended with remote error")

	case isRetryable(err):
		if s.broker.Fail(queue.Captures, job.ID, err, true, s.maxRetries) {
			if markErr := s.catalog.IncrementEntryRetries(ctx, payload.EntryID); markErr != nil {
				logger.WithField("err", markErr).Error("recording capture retry")
			}
			capturesHandledCounter.WithLabelValues("retried").Inc()
			logger.WithField("err", err).Warn("capture failed; requeued")
		} else {
			if markErr := s.catalog.MarkEntryFailed(ctx, payload.EntryID, err.Error()); markErr != nil {
				logger.WithField("err", markErr).Error("marking capture entry failed")
			}
			capturesHandledCounter.WithLabelValues("failed").Inc()
			logger.WithField("err", err).Error("capture failed; retries exhausted")
		}

	default:
		s.broker.Fail(queue.Captures, job.ID, err, false, 0)
		if markErr := s.catalog.MarkEntryFailed(ctx, payload.EntryID, err.Error()); markErr != nil {
			logger.WithField("err", markErr).Error("marking capture entry failed")
		}
		capturesHandledCounter.WithLabelValues("failed").Inc()
		logger.WithField("err", err).Error("capture failed")
	}
}

// drainDiffs processes a bounded batch of pending diff entries, resolving
// each site's latest snapshot pair and walking the entry through the state
// machine. Diff failures are terminal for the entry, never for the site.
func (s *Scheduler) drainDiffs(ctx context.Context) {
	var entries, err = s.catalog.PendingDiffEntries(ctx, diffBatchSize)
	if err != nil {
		log.WithField("err", err).Error("querying pending diff entries")
		return
	}

	// Claim the broker's view of the diff queue and index it by durable
	// entry, so each job settles with the outcome of its own entry.
	var jobs = make(map[int64]*queue.Job)
	for {
		var job = s.broker.Next(queue.Diffs)
		if job == nil {
			break
		}
		var payload queue.DiffPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.WithFields(log.Fields{"job": job.ID, "err": err}).Error("undecodable diff payload")
			s.broker.Fail(queue.Diffs, job.ID, err, false, 0)
			continue
		}
		jobs[payload.EntryID] = job
	}

	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(diffBatchSize)

	for _, entry := range entries {
		var entry = entry
		var job = jobs[entry.ID]
		delete(jobs, entry.ID)

		group.Go(func() error {
			var err = s.processDiffEntry(groupCtx, entry)
			if job != nil {
				if err == nil {
					s.broker.Complete(queue.Diffs, job.ID)
				} else {
					s.broker.Fail(queue.Diffs, job.ID, err, false, 0)
				}
			}
			return nil
		})
	}
	group.Wait()

	for entryID, job := range jobs {
		s.settleOrphanJob(ctx, entryID, job)
	}
}

// settleOrphanJob reconciles a claimed broker job whose entry wasn't in
// this batch: a job whose entry already settled settles the same way, and
// a job whose entry is still queued goes back to the broker unchanged.
func (s *Scheduler) settleOrphanJob(ctx context.Context, entryID int64, job *queue.Job) {
	var entry, err = s.catalog.GetQueueEntry(ctx, entryID)
	switch {
	case err != nil:
		log.WithFields(log.Fields{"entry": entryID, "err": err}).Error("resolving diff job entry")
		s.broker.Requeue(queue.Diffs, job.ID)
	case entry == nil:
		s.broker.Fail(queue.Diffs, job.ID, fmt.Errorf("queue entry %d does not exist", entryID), false, 0)
	case entry.Status == catalog.StatusCompleted:
		s.broker.Complete(queue.Diffs, job.ID)
	case entry.Status == catalog.StatusFailed:
		s.broker.Fail(queue.Diffs, job.ID, fmt.Errorf("queue entry %d failed", entryID), false, 0)
	default:
		s.broker.Requeue(queue.Diffs, job.ID)
	}
}

func (s *Scheduler) processDiffEntry(ctx context.Context, entry *catalog.QueueEntry) error {
	var now = time.Now().UTC()
	var logger = log.WithFields(log.Fields{"site": entry.SiteID, "entry": entry.ID})

	if err := s.catalog.MarkEntryInProgress(ctx, entry.ID, now); err != nil {
		logger.WithField("err", err).Error("marking diff entry in progress")
		return err
	}

	var older, newer, err = s.catalog.LatestTwoSnapshots(ctx, entry.SiteID)
	if err == nil && older == nil {
		// Fewer than two snapshots: nothing to diff. Settle the entry so it
		// doesn't wedge the queue.
		logger.Warn("diff entry without a snapshot pair")
		diffsHandledCounter.WithLabelValues("skipped").Inc()
		return s.catalog.MarkEntryCompleted(ctx, entry.ID, time.Now().UTC(), "no snapshot pair")
	}

	var d *catalog.Diff
	if err == nil {
		d, err = s.engine.Generate(ctx, older.ID, newer.ID)
	}
	if errors.Is(err, diff.ErrUnchanged) {
		// A re-capture landed between detection and drain and the latest
		// pair carries identical content. There is no delta to record.
		logger.Info("latest snapshot pair unchanged; nothing to diff")
		diffsHandledCounter.WithLabelValues("skipped").Inc()
		return s.catalog.MarkEntryCompleted(ctx, entry.ID, time.Now().UTC(), "content unchanged")
	}
	if err != nil {
		logger.WithField("err", err).Error("diff generation failed")
		diffsHandledCounter.WithLabelValues("failed").Inc()
		if markErr := s.catalog.MarkEntryFailed(ctx, entry.ID, err.Error()); markErr != nil {
			logger.WithField("err", markErr).Error("marking diff entry failed")
		}
		return err
	}

	if markErr := s.catalog.MarkEntryCompleted(ctx, entry.ID, time.Now().UTC(), ""); markErr != nil {
		logger.WithField("err", markErr).Error("marking diff entry completed")
	}
	diffsHandledCounter.WithLabelValues("success").Inc()

	if s.OnDiff != nil {
		s.OnDiff(ctx, d)
	}
	return nil
}

// recover rebuilds the in-memory queues from durable entries left pending
// or in progress by a prior run. Interrupted in-progress entries return to
// pending with a bumped retry count.
func (s *Scheduler) recover(ctx context.Context) error {
	var entries, err = s.catalog.PendingEntries(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Status == catalog.StatusInProgress {
			if err = s.catalog.IncrementEntryRetries(ctx, entry.ID); err != nil {
				return err
			}
		}
		if entry.Operation != catalog.OpCapture {
			// Pending diff entries are drained from the catalog directly.
			continue
		}

		site, err := s.catalog.GetSite(ctx, entry.SiteID)
		if err != nil {
			return err
		} else if site == nil {
			continue
		}
		if _, err = s.broker.Enqueue(queue.Captures, queue.CapturePayload{
			SiteID:  site.ID,
			Domain:  site.Domain,
			EntryID: entry.ID,
		}, entry.Priority); err != nil {
			return err
		}
	}

	if len(entries) > 0 {
		log.WithField("entries", len(entries)).Info("recovered queued work from prior run")
	}
	return nil
}

func (s *Scheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) markActive(siteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[siteID] = struct{}{}
	activeCrawlsGauge.Set(float64(len(s.active)))
}

func (s *Scheduler) markIdle(siteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, siteID)
	activeCrawlsGauge.Set(float64(len(s.active)))
}

// isRetryable reports whether the scheduler should requeue a failed job.
func isRetryable(err error) bool {
	var ce *crawler.CaptureError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return true
}
