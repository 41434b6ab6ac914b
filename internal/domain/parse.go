package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MissingFlowSentinel is the value gauges report when no measurement exists.
const MissingFlowSentinel = -9999

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
// Fractional seconds are accepted by time.Parse without being spelled out.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseReading validates and converts a raw reading row. Rows without a site
// id or with an unparseable timestamp are rejected. A missing flow is not a
// rejection here: the row keeps its place in the sample sequence and is
// dropped later by NormalizeDayOfYear.
func ParseReading(raw RawReading) (Reading, error) {
	siteID := strings.TrimSpace(raw.SiteID)
	if siteID == "" {
		return Reading{}, &RecordRejected{Reason: RejectMissingSiteID}
	}

	ts, ok := ParseTimestamp(raw.Timestamp)
	if !ok {
		return Reading{}, &RecordRejected{Reason: RejectBadTimestamp, Value: raw.Timestamp}
	}

	return Reading{
		SiteID:    siteID,
		SiteName:  strings.TrimSpace(raw.SiteName),
		Region:    strings.TrimSpace(raw.Region),
		Timestamp: ts,
		Flow:      ParseFlow(raw.Flow),
		Latitude:  parseOptionalFloat(raw.Latitude),
		Longitude: parseOptionalFloat(raw.Longitude),
	}, nil
}

// ParseBaselineEntry validates and converts a raw baseline row. The p90 value
// is kept even when unusable; JoinBaseline treats it as missing.
func ParseBaselineEntry(raw RawBaselineEntry) (BaselineEntry, error) {
	siteID := strings.TrimSpace(raw.SiteID)
	if siteID == "" {
		return BaselineEntry{}, &RecordRejected{Reason: RejectMissingSiteID}
	}

	doy, err := parseDayOfYear(raw.DayOfYear)
	if err != nil {
		return BaselineEntry{}, &RecordRejected{Reason: RejectBadDayOfYear, Value: raw.DayOfYear}
	}

	return BaselineEntry{
		SiteID:    siteID,
		SiteName:  strings.TrimSpace(raw.SiteName),
		DayOfYear: doy,
		P90Flow:   parseOptionalFloat(raw.P90Flow),
	}, nil
}

// ParseTimestamp reads a timestamp in any supported layout and returns it in
// UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseFlow converts a flow cell to a value, returning nil for empty cells,
// unparseable text, non-finite numbers and the -9999 sentinel.
func ParseFlow(s string) *float64 {
	v := parseOptionalFloat(s)
	if v == nil || *v == MissingFlowSentinel {
		return nil
	}
	return v
}

func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseDayOfYear accepts integral values written as "32" or "32.0".
func parseDayOfYear(s string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v < 1 || v > 366 {
		return 0, strconv.ErrRange
	}
	return int(v), nil
}
