package domain

import (
	"cmp"
	"math"
	"slices"
)

// ComputeRateOfChange sorts readings by site and timestamp and attaches the
// percent change of flow over each window. The sort is stable, so readings
// with equal timestamps keep their input order.
//
// For the reading at position i within its site, a window of w samples
// compares against position i-w:
//
//	pct = (flow[i] - flow[i-w]) / flow[i-w] * 100
//
// The result is nil when i-w < 0, when either flow is nil, or when flow[i-w]
// is zero.
func ComputeRateOfChange(readings []Reading, windows []Window) []EnrichedReading {
	sorted := slices.Clone(readings)
	slices.SortStableFunc(sorted, func(a, b Reading) int {
		if c := cmp.Compare(a.SiteID, b.SiteID); c != 0 {
			return c
		}
		return a.Timestamp.Compare(b.Timestamp)
	})

	out := make([]EnrichedReading, len(sorted))
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].SiteID == sorted[start].SiteID {
			end++
		}
		group := sorted[start:end]
		for i, r := range group {
			out[start+i] = enrich(r, group, i, windows)
		}
		start = end
	}
	return out
}

func enrich(r Reading, group []Reading, i int, windows []Window) EnrichedReading {
	e := EnrichedReading{
		SiteID:    r.SiteID,
		SiteName:  r.SiteName,
		Region:    r.Region,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timestamp: r.Timestamp,
		Flow:      r.Flow,
		PctChange: make(map[string]*float64, len(windows)),
	}
	for _, w := range windows {
		var prev *float64
		if j := i - w.Samples; w.Samples > 0 && j >= 0 {
			prev = group[j].Flow
		}
		e.PctChange[w.Label] = percentChange(r.Flow, prev)
	}
	return e
}

func percentChange(cur, prev *float64) *float64 {
	if cur == nil || prev == nil || *prev == 0 {
		return nil
	}
	v := (*cur - *prev) / *prev * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
