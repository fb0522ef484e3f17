package diff

import "github.com/govwatch/archive/go/catalog"

// Significance classes.
const (
	Minor    = 1
	Moderate = 2
	Major    = 3
)

// ComputeStats tallies change entries across hunks. Replace regions arrive
// as paired delete+insert entries, so Changes stays zero; the field is kept
// for schema stability.
func ComputeStats(hunks []Hunk) catalog.DiffStats {
	var s catalog.DiffStats
	for _, h := range hunks {
		for _, c := range h.Changes {
			switch c.Type {
			case TypeInsert:
				s.Additions++
			case TypeDelete:
				s.Deletions++
			}
		}
	}
	s.Total = s.Additions + s.Deletions + s.Changes
	return s
}

// Classify maps stats onto a significance class. It's a function of
// stats.Total alone.
func Classify(s catalog.DiffStats, sizeThreshold int) int {
	if s.Total < sizeThreshold {
		return Minor
	} else if s.Total < sizeThreshold*5 {
		return Moderate
	}
	return Major
}
