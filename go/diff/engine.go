package diff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/store"
)

// Config is the diff-engine configuration.
type Config struct {
	SizeThreshold       int     `long:"size-threshold" env:"DIFF_SIZE_THRESHOLD" default:"10" description:"Total changed lines below which a diff is minor"`
	SimilarityThreshold float64 `long:"similarity-threshold" env:"DIFF_SIMILARITY_THRESHOLD" default:"0.9" description:"Similarity ratio below which a diff is flagged as low-similarity"`
	EnableVisualDiff    bool    `long:"visual" env:"ENABLE_VISUAL_DIFF" description:"Render annotated visual deltas of screenshots"`
}

// ErrUnchanged reports a snapshot pair with identical content
// fingerprints. A diff row only ever records actual change, so such a
// pair produces no diff.
var ErrUnchanged = errors.New("snapshots carry identical content hashes")

// Engine generates and persists diffs between snapshot pairs.
type Engine struct {
	catalog *catalog.Catalog
	store   *store.Store
	cfg     Config
}

// NewEngine assembles a diff engine.
func NewEngine(cat *catalog.Catalog, st *store.Store, cfg Config) *Engine {
	return &Engine{catalog: cat, store: st, cfg: cfg}
}

// Generate produces the diff of an ordered snapshot pair: it builds and
// persists the hunk document, classifies significance, attempts the visual
// delta when enabled, and writes the diff row. It's idempotent: an existing
// diff of the pair is returned unchanged.
func (e *Engine) Generate(ctx context.Context, oldID, newID int64) (*catalog.Diff, error) {
	var existing, err = e.catalog.GetDiffByPair(ctx, oldID, newID)
	if err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	oldSnap, err := e.catalog.GetSnapshot(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newSnap, err := e.catalog.GetSnapshot(ctx, newID)
	if err != nil {
		return nil, err
	}
	if oldSnap == nil || newSnap == nil {
		return nil, fmt.Errorf("diffing %d -> %d: snapshot not found", oldID, newID)
	}
	if oldSnap.SiteID != newSnap.SiteID {
		return nil, fmt.Errorf("diffing %d -> %d: snapshots belong to different sites", oldID, newID)
	}
	if !oldSnap.CaptureTimestamp.Before(newSnap.CaptureTimestamp) {
		return nil, fmt.Errorf("diffing %d -> %d: snapshots out of order", oldID, newID)
	}
	if oldSnap.ContentHash != nil && newSnap.ContentHash != nil && *oldSnap.ContentHash == *newSnap.ContentHash {
		return nil, fmt.Errorf("diffing %d -> %d: %w", oldID, newID, ErrUnchanged)
	}

	oldLines, err := e.readLines(oldSnap)
	if err != nil {
		return nil, err
	}
	newLines, err := e.readLines(newSnap)
	if err != nil {
		return nil, err
	}

	var logger = log.WithFields(log.Fields{
		"site": newSnap.SiteID, "old": oldID, "new": newID,
	})

	var hunks = BuildHunks(oldLines, newLines)
	var stats = ComputeStats(hunks)
	var significance = Classify(stats, e.cfg.SizeThreshold)

	if ratio := difflib.NewMatcher(oldLines, newLines).Ratio(); ratio < e.cfg.SimilarityThreshold {
		logger.WithField("ratio", fmt.Sprintf("%.3f", ratio)).Info("low similarity between snapshots")
	}

	doc, err := json.Marshal(Document{Hunks: hunks})
	if err != nil {
		return nil, fmt.Errorf("encoding diff document: %w", err)
	}
	diffPath, err := e.store.StoreDiff(newSnap.SiteID, oldID, newID, doc)
	if err != nil {
		return nil, err
	}

	// The visual delta is attempted before the row insert so its path is
	// part of the one and only write. Failures degrade to a text-only diff.
	var visualPath *string
	if e.cfg.EnableVisualDiff && oldSnap.ScreenshotPath != nil && newSnap.ScreenshotPath != nil {
		if path, err := e.generateVisual(oldSnap, newSnap); err != nil {
			logger.WithField("err", err).Warn("visual diff failed; keeping textual diff")
		} else if path != "" {
			visualPath = &path
		}
	}

	var d = &catalog.Diff{
		SiteID:         newSnap.SiteID,
		OldSnapshotID:  oldID,
		NewSnapshotID:  newID,
		DiffTimestamp:  time.Now().UTC(),
		DiffPath:       diffPath,
		Stats:          stats,
		Significance:   significance,
		VisualDiffPath: visualPath,
	}
	if _, err = e.catalog.InsertDiff(ctx, d); err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"diff": d.ID, "total": stats.Total, "significance": significance,
	}).Info("diff generated")
	return d, nil
}

// readLines loads a snapshot's comparison content, preferring the HTML
// artifact and falling back to the text projection.
func (e *Engine) readLines(snap *catalog.Snapshot) ([]string, error) {
	for _, path := range []*string{snap.HTMLPath, snap.TextPath} {
		if path == nil {
			continue
		}
		if content, err := e.store.Read(*path); err == nil {
			return strings.Split(string(content), "\n"), nil
		}
	}
	return nil, fmt.Errorf("snapshot %d has no readable content artifact", snap.ID)
}

func (e *Engine) generateVisual(oldSnap, newSnap *catalog.Snapshot) (string, error) {
	oldPNG, err := e.store.Read(*oldSnap.ScreenshotPath)
	if err != nil {
		return "", fmt.Errorf("reading old screenshot: %w", err)
	}
	newPNG, err := e.store.Read(*newSnap.ScreenshotPath)
	if err != nil {
		return "", fmt.Errorf("reading new screenshot: %w", err)
	}

	annotated, err := VisualDiff(oldPNG, newPNG)
	if err != nil || annotated == nil {
		return "", err
	}
	return e.store.StoreVisualDiff(newSnap.SiteID, oldSnap.ID, newSnap.ID, annotated)
}
