package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Site is a monitored origin.
type Site struct {
	ID                   int64
	Domain               string
	DomainType           *string
	Agency               *string
	OrganizationName     *string
	City                 *string
	State                *string
	SecurityContactEmail *string
	Priority             int
	Enabled              bool
	CreatedAt            time.Time
	LastCheckedAt        *time.Time
	LastChangedAt        *time.Time
}

// Tiers maps site priority onto re-check intervals. Priorities at or below
// HighThreshold re-check every HighInterval, at or below NormalThreshold
// every NormalInterval, and otherwise every LowInterval.
type Tiers struct {
	HighThreshold   int
	NormalThreshold int
	HighInterval    time.Duration
	NormalInterval  time.Duration
	LowInterval     time.Duration
}

// Interval returns the re-check interval of a site priority.
func (t Tiers) Interval(priority int) time.Duration {
	if priority <= t.HighThreshold {
		return t.HighInterval
	} else if priority <= t.NormalThreshold {
		return t.NormalInterval
	}
	return t.LowInterval
}

// QueuePriority maps a site priority onto a work-queue priority.
func (t Tiers) QueuePriority(priority int) int {
	if priority <= t.HighThreshold {
		return 1
	} else if priority <= t.NormalThreshold {
		return 3
	}
	return 5
}

const siteColumns = `id, domain, domain_type, agency, organization_name, city, state,
	security_contact_email, priority, enabled, created_at, last_checked_at, last_changed_at`

func scanSite(row interface{ Scan(...interface{}) error }) (*Site, error) {
	var s Site
	var err = row.Scan(&s.ID, &s.Domain, &s.DomainType, &s.Agency, &s.OrganizationName,
		&s.City, &s.State, &s.SecurityContactEmail, &s.Priority, &s.Enabled,
		&s.CreatedAt, &s.LastCheckedAt, &s.LastChangedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSite fetches a site by id, or nil if it doesn't exist.
func (q *Queries) GetSite(ctx context.Context, id int64) (*Site, error) {
	var site, err = scanSite(q.r.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching site %d: %w", id, err)
	}
	return site, nil
}

// GetSiteByDomain fetches a site by its case-folded domain, or nil.
func (q *Queries) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	var site, err = scanSite(q.r.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE domain = $1`, domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetching site %q: %w", domain, err)
	}
	return site, nil
}

// InsertSite creates a site and returns its assigned id.
func (q *Queries) InsertSite(ctx context.Context, s *Site) (int64, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var err = q.r.QueryRowContext(ctx, `
		INSERT INTO sites (domain, domain_type, agency, organization_name, city, state,
			security_contact_email, priority, enabled, created_at, last_checked_at, last_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		s.Domain, s.DomainType, s.Agency, s.OrganizationName, s.City, s.State,
		s.SecurityContactEmail, s.Priority, s.Enabled, s.CreatedAt, s.LastCheckedAt, s.LastChangedAt,
	).Scan(&s.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting site %q: %w", s.Domain, err)
	}
	return s.ID, nil
}

// UpdateSite rewrites a site's descriptive attributes and priority.
func (q *Queries) UpdateSite(ctx context.Context, s *Site) error {
	var _, err = q.r.ExecContext(ctx, `
		UPDATE sites SET domain_type = $1, agency = $2, organization_name = $3, city = $4,
			state = $5, security_contact_email = $6, priority = $7, enabled = $8
		WHERE id = $9`,
		s.DomainType, s.Agency, s.OrganizationName, s.City, s.State,
		s.SecurityContactEmail, s.Priority, s.Enabled, s.ID)
	if err != nil {
		return fmt.Errorf("updating site %d: %w", s.ID, err)
	}
	return nil
}

// GetPendingSites returns enabled sites which are due for a capture at |now|
// under the tiered re-check intervals, have no outstanding queue entry, and
// orders them by (priority ASC, last_checked_at ASC NULLS FIRST).
func (q *Queries) GetPendingSites(ctx context.Context, limit int, now time.Time, tiers Tiers) ([]*Site, error) {
	var rows, err = q.r.QueryContext(ctx, `
		SELECT `+qualify(siteColumns, "s")+`
		FROM sites s
		LEFT JOIN archive_queue aq
			ON s.id = aq.site_id AND aq.status IN ('pending', 'in_progress')
		WHERE s.enabled AND aq.id IS NULL
		AND (s.last_checked_at IS NULL
			OR (s.priority <= $1 AND s.last_checked_at <= $2)
			OR (s.priority > $3 AND s.priority <= $4 AND s.last_checked_at <= $5)
			OR (s.priority > $6 AND s.last_checked_at <= $7))
		ORDER BY s.priority ASC, s.last_checked_at ASC NULLS FIRST
		LIMIT $8`,
		tiers.HighThreshold, now.Add(-tiers.HighInterval),
		tiers.HighThreshold, tiers.NormalThreshold, now.Add(-tiers.NormalInterval),
		tiers.NormalThreshold, now.Add(-tiers.LowInterval),
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending sites: %w", err)
	}
	defer rows.Close()

	var sites []*Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// TouchChecked advances a site's last_checked_at.
func (q *Queries) TouchChecked(ctx context.Context, id int64, now time.Time) error {
	var _, err = q.r.ExecContext(ctx,
		`UPDATE sites SET last_checked_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("touching last_checked_at of site %d: %w", id, err)
	}
	return nil
}

// TouchChanged advances both last_changed_at and last_checked_at, which
// preserves the invariant last_changed_at <= last_checked_at.
func (q *Queries) TouchChanged(ctx context.Context, id int64, now time.Time) error {
	var _, err = q.r.ExecContext(ctx,
		`UPDATE sites SET last_changed_at = $1, last_checked_at = $2 WHERE id = $3`, now, now, id)
	if err != nil {
		return fmt.Errorf("touching last_changed_at of site %d: %w", id, err)
	}
	return nil
}

// qualify prefixes each column of a column list with a table alias.
func qualify(columns, alias string) string {
	var out string
	for i, c := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(columns string) []string {
	var out []string
	var cur string
	for _, r := range columns {
		switch r {
		case ',':
			out = append(out, cur)
			cur = ""
		case ' ', '\t', '\n':
			// Skip whitespace.
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
