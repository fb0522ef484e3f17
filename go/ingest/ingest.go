// Package ingest loads the monitored-site catalog from CISA .gov dataset
// CSV files. Domains from an optional second CSV are marked high priority.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
)

// Priorities assigned on import.
const (
	PriorityHigh    = 1
	PriorityDefault = 3
)

// Result summarizes one import run.
type Result struct {
	Total   int
	Created int
	Updated int
}

// Import upserts sites from the dataset at |csvPath|. Domains also listed
// in |priorityPath| (optional, "" to skip) import with high priority.
// Domains are case-folded; rows without one are skipped.
func Import(ctx context.Context, cat *catalog.Catalog, csvPath, priorityPath string) (Result, error) {
	var priority, err = loadPriorityDomains(priorityPath)
	if err != nil {
		return Result{}, err
	}
	if len(priority) > 0 {
		log.WithField("domains", len(priority)).Info("loaded priority domains")
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return Result{}, fmt.Errorf("opening domain dataset: %w", err)
	}
	defer f.Close()

	var out Result
	err = forEachRow(f, func(row map[string]string) error {
		out.Total++
		var domain = strings.ToLower(row["domain"])
		if domain == "" {
			return nil
		}

		var site = &catalog.Site{
			Domain:               domain,
			DomainType:           optional(row["domainType"]),
			Agency:               optional(firstOf(row["agency"], row["federalAgency"])),
			OrganizationName:     optional(row["organizationName"]),
			City:                 optional(row["city"]),
			State:                optional(row["state"]),
			SecurityContactEmail: optional(row["securityContact"]),
			Priority:             PriorityDefault,
			Enabled:              true,
		}
		if _, ok := priority[domain]; ok {
			site.Priority = PriorityHigh
		}

		existing, err := cat.GetSiteByDomain(ctx, domain)
		if err != nil {
			return err
		}
		if existing != nil {
			site.ID = existing.ID
			if err = cat.UpdateSite(ctx, site); err != nil {
				return err
			}
			out.Updated++
		} else {
			if _, err = cat.InsertSite(ctx, site); err != nil {
				return err
			}
			out.Created++
		}

		if n := out.Created + out.Updated; n%100 == 0 {
			log.WithField("domains", n).Info("import progress")
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	log.WithFields(log.Fields{
		"total": out.Total, "created": out.Created, "updated": out.Updated,
	}).Info("domain import complete")
	return out, nil
}

func loadPriorityDomains(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}
	var f, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening priority dataset: %w", err)
	}
	defer f.Close()

	var out = make(map[string]struct{})
	err = forEachRow(f, func(row map[string]string) error {
		if domain := strings.ToLower(row["domain"]); domain != "" {
			out[domain] = struct{}{}
		}
		return nil
	})
	return out, err
}

// forEachRow reads a headed CSV and presents each record as a
// column-name -> value map.
func forEachRow(r io.Reader, fn func(row map[string]string) error) error {
	var reader = csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var header, err = reader.Read()
	if err == io.EOF {
		return nil
	} else if err != nil {
		return fmt.Errorf("reading CSV header: %w", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading CSV record: %w", err)
		}

		var row = make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		if err = fn(row); err != nil {
			return err
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
