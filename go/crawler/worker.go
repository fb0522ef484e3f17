// Package crawler captures monitored sites: it fetches the page, renders
// optional derivatives through a headless browser, persists the artifact
// set, and records an immutable snapshot row. Change detection compares
// the new snapshot's content fingerprint against its predecessor and
// schedules diff generation when they differ.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/store"
	"github.com/govwatch/archive/go/warc"
)

// Worker captures single sites. It's safe for concurrent use; each
// Capture call is independent.
type Worker struct {
	catalog  *catalog.Catalog
	store    *store.Store
	fetcher  *Fetcher
	renderer Renderer
	cfg      Config
	scheme   string
}

// NewWorker assembles a capture worker. |renderer| may be nil when
// neither screenshots nor PDFs are enabled.
func NewWorker(cat *catalog.Catalog, st *store.Store, renderer Renderer, cfg Config) *Worker {
	return &Worker{
		catalog:  cat,
		store:    st,
		fetcher:  NewFetcher(cfg),
		renderer: renderer,
		cfg:      cfg,
		scheme:   "https",
	}
}

// Capture fetches https://<domain>, persists the artifact set, and writes
// the snapshot row. The row insert, artifact persistence, and path update
// share one transaction, so a snapshot becomes visible exactly once, with
// its artifacts already on disk.
func (w *Worker) Capture(ctx context.Context, site *catalog.Site) (*catalog.Snapshot, error) {
	var url = w.scheme + "://" + site.Domain
	var logger = log.WithFields(log.Fields{"site": site.ID, "domain": site.Domain})
	logger.Info("capturing site")

	// Politeness spacing between requests.
	if w.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &CaptureError{Kind: KindTransient, Err: ctx.Err()}
		case <-time.After(w.cfg.Delay):
		}
	}

	// The whole procedure, rendering included, shares one wall-clock budget.
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	var started = time.Now()
	var result, err = w.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if result.Response.StatusCode != http.StatusOK {
		// The site answered, just not usefully. Advance last_checked_at so
		// the scheduler doesn't hot-loop it, and surface a remote failure.
		if touchErr := w.catalog.TouchChecked(ctx, site.ID, time.Now().UTC()); touchErr != nil {
			logger.WithField("err", touchErr).Error("failed to record check after remote failure")
		}
		return nil, &CaptureError{
			Kind:   KindRemote,
			Status: result.Response.StatusCode,
			Err:    fmt.Errorf("capturing %s: HTTP %d", url, result.Response.StatusCode),
		}
	}

	var hash = sha256.Sum256(result.Body)
	var contentHash = hex.EncodeToString(hash[:])

	// Browser derivatives are best-effort: a stuck renderer must not lose
	// the capture itself.
	var screenshot, pdf []byte
	if w.cfg.EnableScreenshots && w.renderer != nil {
		if screenshot, err = w.renderer.RenderPNG(ctx, url); err != nil {
			logger.WithField("err", err).Warn("screenshot rendering failed")
			screenshot = nil
		}
	}
	if w.cfg.EnablePDF && w.renderer != nil {
		if pdf, err = w.renderer.RenderPDF(ctx, url); err != nil {
			logger.WithField("err", err).Warn("PDF rendering failed")
			pdf = nil
		}
	}

	var status = result.Response.StatusCode
	var snap = &catalog.Snapshot{
		SiteID:           site.ID,
		CaptureTimestamp: time.Now().UTC(),
		ContentHash:      &contentHash,
		Status:           &status,
		Metadata: catalog.Metadata{
			"final_url":         result.FinalURL,
			"content_type":      result.Response.Header.Get("Content-Type"),
			"fetch_duration_ms": time.Since(started).Milliseconds(),
		},
	}

	err = w.catalog.WithTx(ctx, func(q *catalog.Queries) error {
		if _, err := q.InsertSnapshot(ctx, snap); err != nil {
			return &CaptureError{Kind: KindCatalog, Err: err}
		}
		if err := w.persistArtifacts(site, snap, result, screenshot, pdf); err != nil {
			return &CaptureError{Kind: KindArtifact, Err: err}
		}
		if err := q.UpdateSnapshotPaths(ctx, snap); err != nil {
			return &CaptureError{Kind: KindCatalog, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{"snapshot": snap.ID, "hash": contentHash[:12]}).
		Info("captured site")
	return snap, nil
}

// persistArtifacts writes every artifact of a snapshot and fills the
// snapshot's path and size columns.
func (w *Worker) persistArtifacts(site *catalog.Site, snap *catalog.Snapshot,
	result *FetchResult, screenshot, pdf []byte) error {

	var total int64

	htmlPath, err := w.store.StoreHTML(site.ID, snap.ID, result.Body)
	if err != nil {
		return err
	}
	snap.HTMLPath = &htmlPath
	total += int64(len(result.Body))

	var record = warc.Record(result.FinalURL, result.Response, result.Body, snap.CaptureTimestamp)
	warcPath, err := w.store.StoreWARC(site.ID, snap.ID, record)
	if err != nil {
		return err
	}
	snap.WARCPath = &warcPath
	total += int64(len(record))

	if w.cfg.EnableTextExtraction {
		var text = []byte(ExtractText(result.Body))
		textPath, err := w.store.StoreText(site.ID, snap.ID, text)
		if err != nil {
			return err
		}
		snap.TextPath = &textPath
		total += int64(len(text))
	}
	if screenshot != nil {
		shotPath, err := w.store.StoreScreenshot(site.ID, snap.ID, screenshot)
		if err != nil {
			return err
		}
		snap.ScreenshotPath = &shotPath
		total += int64(len(screenshot))
	}
	if pdf != nil {
		pdfPath, err := w.store.StorePDF(site.ID, snap.ID, pdf)
		if err != nil {
			return err
		}
		snap.PDFPath = &pdfPath
		total += int64(len(pdf))
	}

	snap.SizeBytes = &total
	return nil
}
