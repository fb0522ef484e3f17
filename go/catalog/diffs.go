package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Diff is a structured delta between two snapshots of the same site.
// Created at most once per ordered (old, new) pair, then never mutated.
type Diff struct {
	ID             int64
	SiteID         int64
	OldSnapshotID  int64
	NewSnapshotID  int64
	DiffTimestamp  time.Time
	DiffPath       string
	Stats          DiffStats
	Significance   int
	VisualDiffPath *string
}

// DiffStats are the change counts of a diff. Changes counts replace
// entries, which the hunk projection splits into delete+insert pairs, so
// it remains zero in practice; the field is kept for schema stability.
type DiffStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
	Total     int `json:"total"`
}

const diffColumns = `id, site_id, old_snapshot_id, new_snapshot_id, diff_timestamp,
	diff_path, stats, significance, visual_diff_path`

func scanDiff(row interface{ Scan(...interface{}) error }) (*Diff, error) {
	var d Diff
	var rawStats string
	var err = row.Scan(&d.ID, &d.SiteID, &d.OldSnapshotID, &d.NewSnapshotID,
		&d.DiffTimestamp, &d.DiffPath, &rawStats, &d.Significance, &d.VisualDiffPath)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(rawStats), &d.Stats); err != nil {
		return nil, fmt.Errorf("decoding diff stats: %w", err)
	}
	return &d, nil
}

// InsertDiff persists a diff row and returns its assigned id.
func (q *Queries) InsertDiff(ctx context.Context, d *Diff) (int64, error) {
	var stats, err = json.Marshal(d.Stats)
	if err != nil {
		return 0, fmt.Errorf("encoding diff stats: %w", err)
	}
	err = q.r.QueryRowContext(ctx, `
		INSERT INTO diffs (site_id, old_snapshot_id, new_snapshot_id, diff_timestamp,
			diff_path, stats, significance, visual_diff_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		d.SiteID, d.OldSnapshotID, d.NewSnapshotID, d.DiffTimestamp,
		d.DiffPath, string(stats), d.Significance, d.VisualDiffPath,
	).Scan(&d.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting diff %d -> %d: %w", d.OldSnapshotID, d.NewSnapshotID, err)
	}
	return d.ID, nil
}

// GetDiffByPair fetches the diff of an ordered snapshot pair, or nil.
// It doubles as the existence check backing diff idempotency.
func (q *Queries) GetDiffByPair(ctx context.Context, oldID, newID int64) (*Diff, error) {
	var d, err = scanDiff(q.r.QueryRowContext(ctx,
		`SELECT `+diffColumns+` FROM diffs WHERE old_snapshot_id = $1 AND new_snapshot_id = $2`,
		oldID, newID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching diff %d -> %d: %w", oldID, newID, err)
	}
	return d, nil
}

// DiffExists tells whether a diff of the ordered pair was already created.
func (q *Queries) DiffExists(ctx context.Context, oldID, newID int64) (bool, error) {
	var d, err = q.GetDiffByPair(ctx, oldID, newID)
	return d != nil, err
}
