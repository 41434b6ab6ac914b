package domain

import (
	"cmp"
	"slices"
)

// LatestSnapshots reduces rows to one snapshot per site: the row with the
// greatest timestamp. Among rows sharing that timestamp the one that comes
// last after a stable ascending sort wins. The result is sorted by site id.
func LatestSnapshots(rows []EnrichedReading) []Snapshot {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b EnrichedReading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	latest := make(map[string]EnrichedReading)
	for _, r := range sorted {
		latest[r.SiteID] = r
	}

	out := make([]Snapshot, 0, len(latest))
	for _, r := range latest {
		out = append(out, Snapshot(r))
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return cmp.Compare(a.SiteID, b.SiteID)
	})
	return out
}

// OrderSnapshots arranges snapshots so that row positions survive between
// runs: sites present in previous keep their relative order, and new sites
// follow sorted by id. Sites in previous that no longer have a snapshot are
// skipped. Snapshots must have unique site ids.
func OrderSnapshots(snaps []Snapshot, previous []string) []Snapshot {
	bySite := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		bySite[s.SiteID] = s
	}

	out := make([]Snapshot, 0, len(snaps))
	placed := make(map[string]bool, len(snaps))
	for _, id := range previous {
		s, ok := bySite[id]
		if !ok || placed[id] {
			continue
		}
		out = append(out, s)
		placed[id] = true
	}

	var fresh []Snapshot
	for _, s := range snaps {
		if !placed[s.SiteID] {
			fresh = append(fresh, s)
		}
	}
	slices.SortStableFunc(fresh, func(a, b Snapshot) int {
		return cmp.Compare(a.SiteID, b.SiteID)
	})
	return append(out, fresh...)
}
