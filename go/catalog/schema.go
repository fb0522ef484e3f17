package catalog

import (
	"context"
	"fmt"
	"strings"
)

// schema is the catalog DDL. The {{id}} placeholder expands to the
// driver-appropriate auto-increment primary key clause.
const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id {{id}},
	domain TEXT NOT NULL UNIQUE,
	domain_type TEXT,
	agency TEXT,
	organization_name TEXT,
	city TEXT,
	state TEXT,
	security_contact_email TEXT,
	priority INTEGER NOT NULL DEFAULT 3,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL,
	last_checked_at TIMESTAMP,
	last_changed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	id {{id}},
	site_id BIGINT NOT NULL REFERENCES sites (id),
	capture_timestamp TIMESTAMP NOT NULL,
	warc_path TEXT,
	screenshot_path TEXT,
	html_path TEXT,
	text_path TEXT,
	pdf_path TEXT,
	content_hash TEXT,
	status INTEGER,
	size_bytes BIGINT,
	error_message TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_snapshots_site_ts ON snapshots (site_id, capture_timestamp);

CREATE TABLE IF NOT EXISTS diffs (
	id {{id}},
	site_id BIGINT NOT NULL REFERENCES sites (id),
	old_snapshot_id BIGINT NOT NULL REFERENCES snapshots (id),
	new_snapshot_id BIGINT NOT NULL REFERENCES snapshots (id),
	diff_timestamp TIMESTAMP NOT NULL,
	diff_path TEXT NOT NULL,
	stats TEXT NOT NULL,
	significance INTEGER NOT NULL,
	visual_diff_path TEXT,
	UNIQUE (old_snapshot_id, new_snapshot_id)
);

CREATE TABLE IF NOT EXISTS archive_queue (
	id {{id}},
	site_id BIGINT NOT NULL REFERENCES sites (id),
	operation TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 5,
	scheduled_for TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT,
	retries INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_site_status ON archive_queue (site_id, status);
`

// EnsureSchema creates catalog tables and indexes which don't yet exist.
func (c *Catalog) EnsureSchema(ctx context.Context, driver string) error {
	var idClause string
	switch driver {
	case "sqlite3":
		idClause = "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		idClause = "BIGSERIAL PRIMARY KEY"
	}

	for _, stmt := range strings.Split(strings.ReplaceAll(schema, "{{id}}", idClause), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying catalog schema: %w", err)
		}
	}
	return nil
}
