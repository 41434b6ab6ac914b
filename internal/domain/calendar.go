package domain

import "time"

// DayOfYear returns the UTC calendar day, 1 through 366. Day 366 of a leap
// year and day 1 of the next year are unrelated keys.
func DayOfYear(t time.Time) int {
	return t.UTC().YearDay()
}

// NormalizeDayOfYear sets the day-of-year join key on every row and drops the
// rows that cannot take part in the baseline comparison: readings without a
// flow, without a site id, or without a timestamp.
func NormalizeDayOfYear(rows []EnrichedReading) ([]EnrichedReading, RejectCounts) {
	rejected := RejectCounts{}
	out := make([]EnrichedReading, 0, len(rows))
	for _, r := range rows {
		switch {
		case r.SiteID == "":
			rejected.Add(RejectMissingSiteID)
			continue
		case r.Timestamp.IsZero():
			rejected.Add(RejectBadTimestamp)
			continue
		case r.Flow == nil:
			rejected.Add(RejectMissingFlow)
			continue
		}
		r.DayOfYear = DayOfYear(r.Timestamp)
		out = append(out, r)
	}
	return out, rejected
}
