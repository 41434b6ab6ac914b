package domain

import "time"

// RawReading is one reading row as it appears in a source table, before any
// parsing. Region is filled in by the loader from the source it came from.
type RawReading struct {
	SiteID    string
	SiteName  string
	Region    string
	Timestamp string
	Flow      string
	Latitude  string
	Longitude string
}

// Reading is a parsed gauge observation. Flow is nil when the gauge reported
// no usable value.
type Reading struct {
	SiteID    string
	SiteName  string
	Region    string
	Timestamp time.Time
	Flow      *float64
	Latitude  *float64
	Longitude *float64
}

// RawBaselineEntry is one baseline row as it appears in the source table.
type RawBaselineEntry struct {
	SiteID    string
	SiteName  string
	DayOfYear string
	P90Flow   string
}

// BaselineEntry is the historical 90th-percentile flow for a site and
// calendar day. P90Flow is nil when the statistic is unusable.
type BaselineEntry struct {
	SiteID    string
	SiteName  string
	DayOfYear int
	P90Flow   *float64
}

// Dataset is everything the loader produced for one run.
type Dataset struct {
	Readings []Reading
	Baseline []BaselineEntry

	// MissingSources lists reading sources that could not be opened.
	MissingSources []string
	// BaselineMissing is set when the baseline source could not be opened.
	BaselineMissing bool
	BaselinePath    string

	Rejected RejectCounts
}

// PartialWarning returns a warning describing missing reading sources, or nil
// when every configured source loaded.
func (d Dataset) PartialWarning() *PartialSourceWarning {
	if len(d.MissingSources) == 0 {
		return nil
	}
	return &PartialSourceWarning{Missing: d.MissingSources}
}

// EnrichedReading is a reading carrying every derived column. History tables
// hold one per input reading; snapshots hold the latest one per site.
type EnrichedReading struct {
	SiteID    string    `json:"site_id"`
	SiteName  string    `json:"site_name,omitempty"`
	Region    string    `json:"region,omitempty"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	DayOfYear int       `json:"day_of_year"`
	Flow      *float64  `json:"flow"`

	// PctChange is keyed by window label, e.g. "1h".
	PctChange map[string]*float64 `json:"pct_change"`

	P90Flow    *float64 `json:"p90_flow"`
	Ratio      *float64 `json:"ratio"`
	HighFlow   bool     `json:"high_flow"`
	Percentile float64  `json:"percentile"`
}

// Snapshot is the latest enriched reading for a site.
type Snapshot EnrichedReading

// Result is the output of one transform.
type Result struct {
	RunID string

	// History holds every enriched reading sorted by site then timestamp.
	History   []EnrichedReading
	Snapshots []Snapshot

	// BaselineMissing marks a rate-of-change-only result. Snapshots is empty.
	BaselineMissing bool

	Rejected           RejectCounts
	BaselineDuplicates []BaselineKey
}

// HighFlowSites returns the snapshots flagged as high flow, in output order.
func (r Result) HighFlowSites() []Snapshot {
	var out []Snapshot
	for _, s := range r.Snapshots {
		if s.HighFlow {
			out = append(out, s)
		}
	}
	return out
}
