package freebusy

import (
	"slices"

	"gcalsync/internal/daterange"
)

// Condense merges overlapping and touching ranges. The input is left
// untouched; the result is sorted by start.
func Condense(ranges []daterange.Range) []daterange.Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, daterange.SortFunc)

	out := make([]daterange.Range, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if !r.Start.After(cur.End) {
			if r.End.After(cur.End) {
				cur.End = r.End
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur)
}
