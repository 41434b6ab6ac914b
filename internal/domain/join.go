package domain

import "math"

// JoinBaseline left-joins rows to the baseline table on site and day of year
// and derives the comparison columns. Every row is kept. Rows are expected to
// carry a day of year (see NormalizeDayOfYear).
//
// A site name from the reading wins over the one in the baseline table.
func JoinBaseline(rows []EnrichedReading, table *BaselineTable, cfg Config) []EnrichedReading {
	out := make([]EnrichedReading, len(rows))
	for i, r := range rows {
		entry, ok := table.Lookup(r.SiteID, r.DayOfYear)

		r.P90Flow = nil
		if ok {
			r.P90Flow = usableBaseline(entry.P90Flow)
			if r.SiteName == "" {
				r.SiteName = entry.SiteName
			}
		}

		r.Ratio = flowRatio(r.Flow, r.P90Flow)
		r.HighFlow = r.Ratio != nil && *r.Ratio >= cfg.HighFlowThreshold
		r.Percentile = percentileScore(r.Ratio, cfg.PercentileCap)
		out[i] = r
	}
	return out
}

// usableBaseline returns nil for absent, non-finite or non-positive values.
func usableBaseline(p90 *float64) *float64 {
	if p90 == nil || math.IsNaN(*p90) || math.IsInf(*p90, 0) || *p90 <= 0 {
		return nil
	}
	v := *p90
	return &v
}

func flowRatio(flow, p90 *float64) *float64 {
	if flow == nil || p90 == nil {
		return nil
	}
	v := *flow / *p90
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// percentileScore is ratio*100 clamped to [0, limit], with 0 for a missing
// ratio.
func percentileScore(ratio *float64, limit float64) float64 {
	if ratio == nil {
		return 0
	}
	p := *ratio * 100
	switch {
	case math.IsNaN(p), math.IsInf(p, 0):
		return 0
	case p < 0:
		return 0
	case p > limit:
		return limit
	}
	return p
}
