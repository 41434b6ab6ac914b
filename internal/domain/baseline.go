package domain

import (
	"cmp"
	"slices"
)

// BaselineKey identifies one seasonal baseline statistic.
type BaselineKey struct {
	SiteID    string
	DayOfYear int
}

// BaselineTable indexes baseline entries by site and day of year. When the
// source holds several entries for one key the first wins; the repeated keys
// are reported by Duplicates and are never combined.
type BaselineTable struct {
	entries    map[BaselineKey]BaselineEntry
	duplicates []BaselineKey
}

// NewBaselineTable indexes entries in input order.
func NewBaselineTable(entries []BaselineEntry) *BaselineTable {
	t := &BaselineTable{entries: make(map[BaselineKey]BaselineEntry, len(entries))}
	seen := make(map[BaselineKey]bool)
	for _, e := range entries {
		key := BaselineKey{SiteID: e.SiteID, DayOfYear: e.DayOfYear}
		if _, ok := t.entries[key]; ok {
			if !seen[key] {
				t.duplicates = append(t.duplicates, key)
				seen[key] = true
			}
			continue
		}
		t.entries[key] = e
	}
	slices.SortFunc(t.duplicates, compareKeys)
	return t
}

// Lookup returns the entry for a site and day.
func (t *BaselineTable) Lookup(siteID string, dayOfYear int) (BaselineEntry, bool) {
	if t == nil {
		return BaselineEntry{}, false
	}
	e, ok := t.entries[BaselineKey{SiteID: siteID, DayOfYear: dayOfYear}]
	return e, ok
}

// Len returns the number of distinct keys.
func (t *BaselineTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Duplicates returns the keys that appeared more than once, sorted.
func (t *BaselineTable) Duplicates() []BaselineKey {
	if t == nil {
		return nil
	}
	return slices.Clone(t.duplicates)
}

func compareKeys(a, b BaselineKey) int {
	if c := cmp.Compare(a.SiteID, b.SiteID); c != 0 {
		return c
	}
	return cmp.Compare(a.DayOfYear, b.DayOfYear)
}
