package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queue entry operations and statuses. Entries are the durable shadow of
// in-memory work-queue jobs: scheduling admission checks them, and restart
// recovery rebuilds the in-memory queues from rows still pending or
// in progress.
const (
	OpCapture = "capture"
	OpDiff    = "diff"

	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QueueEntry is a durable record of one scheduled operation on a site.
type QueueEntry struct {
	ID           int64
	SiteID       int64
	Operation    string
	Status       string
	Priority     int
	ScheduledFor time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	Retries      int
}

const entryColumns = `id, site_id, operation, status, priority, scheduled_for,
	started_at, completed_at, error_message, retries`

func scanEntry(row interface{ Scan(...interface{}) error }) (*QueueEntry, error) {
	var e QueueEntry
	var err = row.Scan(&e.ID, &e.SiteID, &e.Operation, &e.Status, &e.Priority,
		&e.ScheduledFor, &e.StartedAt, &e.CompletedAt, &e.ErrorMessage, &e.Retries)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertQueueEntry persists a queue entry and returns its assigned id.
func (q *Queries) InsertQueueEntry(ctx context.Context, e *QueueEntry) (int64, error) {
	var err = q.r.QueryRowContext(ctx, `
		INSERT INTO archive_queue (site_id, operation, status, priority, scheduled_for, retries)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.SiteID, e.Operation, e.Status, e.Priority, e.ScheduledFor, e.Retries,
	).Scan(&e.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting %s queue entry for site %d: %w", e.Operation, e.SiteID, err)
	}
	return e.ID, nil
}

// GetQueueEntry fetches a queue entry by id, or nil.
func (q *Queries) GetQueueEntry(ctx context.Context, id int64) (*QueueEntry, error) {
	var e, err = scanEntry(q.r.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM archive_queue WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching queue entry %d: %w", id, err)
	}
	return e, nil
}

// HasOutstandingEntry tells whether the site already has a pending or
// in-progress entry of the given operation. The scheduler must observe
// this before enqueuing: at most one such entry may exist per operation.
func (q *Queries) HasOutstandingEntry(ctx context.Context, siteID int64, operation string) (bool, error) {
	var n int
	var err = q.r.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM archive_queue
		WHERE site_id = $1 AND operation = $2 AND status IN ('pending', 'in_progress')`,
		siteID, operation).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking outstanding %s entry of site %d: %w", operation, siteID, err)
	}
	return n > 0, nil
}

// PendingDiffEntries returns up to |limit| pending diff entries ordered by
// (priority ASC, scheduled_for ASC).
func (q *Queries) PendingDiffEntries(ctx context.Context, limit int) ([]*QueueEntry, error) {
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM archive_queue
		WHERE operation = 'diff' AND status = 'pending'
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT $1`, limit)
}

// PendingEntries returns every entry still pending or in progress, for
// rebuilding the in-memory queues after a restart.
func (q *Queries) PendingEntries(ctx context.Context) ([]*QueueEntry, error) {
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM archive_queue
		WHERE status IN ('pending', 'in_progress')
		ORDER BY priority ASC, scheduled_for ASC`)
}

func (q *Queries) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*QueueEntry, error) {
	var rows, err = q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkEntryInProgress transitions pending -> in_progress and records when
// work started.
func (q *Queries) MarkEntryInProgress(ctx context.Context, id int64, now time.Time) error {
	var _, err = q.r.ExecContext(ctx,
		`UPDATE archive_queue SET status = 'in_progress', started_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("marking queue entry %d in progress: %w", id, err)
	}
	return nil
}

// MarkEntryCompleted transitions to completed, with an optional note.
func (q *Queries) MarkEntryCompleted(ctx context.Context, id int64, now time.Time, note string) error {
	var msg *string
	if note != "" {
		msg = &note
	}
	var _, err = q.r.ExecContext(ctx, `
		UPDATE archive_queue SET status = 'completed', completed_at = $1, error_message = $2
		WHERE id = $3`, now, msg, id)
	if err != nil {
		return fmt.Errorf("marking queue entry %d completed: %w", id, err)
	}
	return nil
}

// MarkEntryFailed transitions to failed and records the error message.
func (q *Queries) MarkEntryFailed(ctx context.Context, id int64, errMsg string) error {
	var _, err = q.r.ExecContext(ctx,
		`UPDATE archive_queue SET status = 'failed', error_message = $1 WHERE id = $2`, errMsg, id)
	if err != nil {
		return fmt.Errorf("marking queue entry %d failed: %w", id, err)
	}
	return nil
}

// IncrementEntryRetries bumps the retry counter of a requeued entry and
// returns it to pending.
func (q *Queries) IncrementEntryRetries(ctx context.Context, id int64) error {
	var _, err = q.r.ExecContext(ctx,
		`UPDATE archive_queue SET retries = retries + 1, status = 'pending' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing retries of queue entry %d: %w", id, err)
	}
	return nil
}
