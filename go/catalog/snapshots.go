package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Snapshot is an accepted capture of a site at a moment. Rows are written
// exactly once and never mutated.
type Snapshot struct {
	ID               int64
	SiteID           int64
	CaptureTimestamp time.Time
	WARCPath         *string
	ScreenshotPath   *string
	HTMLPath         *string
	TextPath         *string
	PDFPath          *string
	ContentHash      *string
	Status           *int
	SizeBytes        *int64
	ErrorMessage     *string
	Metadata         Metadata
}

// Metadata is the free-form string -> (string|number|bool) map carried on
// snapshots, persisted as a JSON text column.
type Metadata map[string]interface{}

func (m Metadata) value() (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	var b, err = json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot metadata: %w", err)
	}
	return string(b), nil
}

func (m *Metadata) scan(raw *string) error {
	if raw == nil || *raw == "" {
		*m = nil
		return nil
	}
	if err := json.Unmarshal([]byte(*raw), m); err != nil {
		return fmt.Errorf("decoding snapshot metadata: %w", err)
	}
	return nil
}

const snapshotColumns = `id, site_id, capture_timestamp, warc_path, screenshot_path,
	html_path, text_path, pdf_path, content_hash, status, size_bytes, error_message, metadata`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*Snapshot, error) {
	var s Snapshot
	var rawMeta *string
	var err = row.Scan(&s.ID, &s.SiteID, &s.CaptureTimestamp, &s.WARCPath, &s.ScreenshotPath,
		&s.HTMLPath, &s.TextPath, &s.PDFPath, &s.ContentHash, &s.Status, &s.SizeBytes,
		&s.ErrorMessage, &rawMeta)
	if err != nil {
		return nil, err
	}
	if err = s.Metadata.scan(rawMeta); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSnapshot persists a snapshot row and returns its assigned id.
func (q *Queries) InsertSnapshot(ctx context.Context, s *Snapshot) (int64, error) {
	var meta, err = s.Metadata.value()
	if err != nil {
		return 0, err
	}
	err = q.r.QueryRowContext(ctx, `
		INSERT INTO snapshots (site_id, capture_timestamp, warc_path, screenshot_path,
			html_path, text_path, pdf_path, content_hash, status, size_bytes, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		s.SiteID, s.CaptureTimestamp, s.WARCPath, s.ScreenshotPath, s.HTMLPath, s.TextPath,
		s.PDFPath, s.ContentHash, s.Status, s.SizeBytes, s.ErrorMessage, meta,
	).Scan(&s.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot of site %d: %w", s.SiteID, err)
	}
	return s.ID, nil
}

// UpdateSnapshotPaths fills artifact paths onto a snapshot row. Artifacts
// are keyed by snapshot id, so the row is created first and its paths are
// recorded within the same enclosing transaction.
func (q *Queries) UpdateSnapshotPaths(ctx context.Context, s *Snapshot) error {
	var _, err = q.r.ExecContext(ctx, `
		UPDATE snapshots SET warc_path = $1, screenshot_path = $2, html_path = $3,
			text_path = $4, pdf_path = $5, size_bytes = $6
		WHERE id = $7`,
		s.WARCPath, s.ScreenshotPath, s.HTMLPath, s.TextPath, s.PDFPath, s.SizeBytes, s.ID)
	if err != nil {
		return fmt.Errorf("updating artifact paths of snapshot %d: %w", s.ID, err)
	}
	return nil
}

// GetSnapshot fetches a snapshot by id, or nil.
func (q *Queries) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	var snap, err = scanSnapshot(q.r.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching snapshot %d: %w", id, err)
	}
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot of a site, or nil.
func (q *Queries) LatestSnapshot(ctx context.Context, siteID int64) (*Snapshot, error) {
	var snap, err = scanSnapshot(q.r.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE site_id = $1
		ORDER BY capture_timestamp DESC, id DESC
		LIMIT 1`, siteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching latest snapshot of site %d: %w", siteID, err)
	}
	return snap, nil
}

// LatestSnapshotExcluding returns the most recent snapshot of a site other
// than |excludeID|, or nil. The change detector uses it to find the true
// predecessor of a just-written snapshot.
func (q *Queries) LatestSnapshotExcluding(ctx context.Context, siteID, excludeID int64) (*Snapshot, error) {
	var snap, err = scanSnapshot(q.r.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE site_id = $1 AND id != $2
		ORDER BY capture_timestamp DESC, id DESC
		LIMIT 1`, siteID, excludeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching predecessor snapshot of site %d: %w", siteID, err)
	}
	return snap, nil
}

// LatestTwoSnapshots returns the two most recent snapshots of a site as an
// (older, newer) pair. Either may be nil when fewer than two exist.
func (q *Queries) LatestTwoSnapshots(ctx context.Context, siteID int64) (older, newer *Snapshot, err error) {
	rows, err := q.r.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE site_id = $1
		ORDER BY capture_timestamp DESC, id DESC
		LIMIT 2`, siteID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying latest snapshots of site %d: %w", siteID, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning snapshot of site %d: %w", siteID, err)
		}
		out = append(out, snap)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, err
	}

	switch len(out) {
	case 0:
		return nil, nil, nil
	case 1:
		return nil, out[0], nil
	default:
		return out[1], out[0], nil
	}
}
