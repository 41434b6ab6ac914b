package domain

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// BaselineOptions controls BuildBaseline.
type BaselineOptions struct {
	// Quantile in (0, 1]; 0.9 yields the p90 baseline.
	Quantile float64
	// MinSamples is the fewest flows a (site, day) needs to get an entry.
	MinSamples int
}

// DefaultBaselineOptions builds a p90 baseline from any non-empty history.
func DefaultBaselineOptions() BaselineOptions {
	return BaselineOptions{Quantile: 0.9, MinSamples: 1}
}

// BuildBaseline computes the empirical flow quantile for every site and UTC
// day of year found in a long reading history. Readings without flow are
// ignored. Entries are sorted by site id then day.
func BuildBaseline(history []Reading, opts BaselineOptions) []BaselineEntry {
	flows := make(map[BaselineKey][]float64)
	names := make(map[string]string)
	for _, r := range history {
		if r.SiteName != "" && names[r.SiteID] == "" {
			names[r.SiteID] = r.SiteName
		}
		if r.Flow == nil {
			continue
		}
		key := BaselineKey{SiteID: r.SiteID, DayOfYear: DayOfYear(r.Timestamp)}
		flows[key] = append(flows[key], *r.Flow)
	}

	keys := make([]BaselineKey, 0, len(flows))
	for k := range flows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	minSamples := max(opts.MinSamples, 1)
	out := make([]BaselineEntry, 0, len(keys))
	for _, k := range keys {
		xs := flows[k]
		if len(xs) < minSamples {
			continue
		}
		sort.Float64s(xs)
		q := stat.Quantile(opts.Quantile, stat.Empirical, xs, nil)
		out = append(out, BaselineEntry{
			SiteID:    k.SiteID,
			SiteName:  names[k.SiteID],
			DayOfYear: k.DayOfYear,
			P90Flow:   &q,
		})
	}
	return out
}
