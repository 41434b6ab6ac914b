// Package domain models streamflow gauge readings and the flood-risk snapshot
// derived from them.
//
// # Data Source
//
// Readings arrive as flat CSV tables, one per regional feed (for example
// north_va.csv and south_va.csv). An upstream fetcher, outside this service,
// appends the most recent instantaneous values for every gauge in the region.
// A second table holds the seasonal baseline: the historical 90th-percentile
// flow for each site and calendar day.
//
// # Gauge Data Conventions
//
// Site identifiers:
//
//	Opaque strings such as "01646500". Leading zeros are significant, so ids
//	are never parsed as numbers.
//
// Time format:
//
//	RFC 3339 ("2024-04-26T15:10:00Z") or the space separated form written by
//	most tabular tools ("2024-04-26 15:10:00+00:00"). Timestamps without an
//	offset are read as UTC.
//
// Flow:
//
//	Cubic feet per second. "-9999" is the provider sentinel for an
//	unavailable value; it, empty cells and unparseable text all become a nil
//	flow before any arithmetic runs.
//
// Cadence:
//
//	Gauges report every 5 minutes, so a lookback of 12 samples is one hour.
//	Windows count samples rather than wall-clock time. A gauge that skips
//	reports therefore looks further back than its label suggests.
//
// # Processing Stages
//
//	ComputeRateOfChange   percent change over each configured sample window
//	NormalizeDayOfYear    UTC day-of-year join key, rows without flow dropped
//	JoinBaseline          left join to the p90 table, ratio and percentile
//	LatestSnapshots       one row per site, latest timestamp wins
//	OrderSnapshots        stable row order across runs
//
// Missing values are nil pointers throughout. Percentile is the only derived
// number that is never nil: it falls back to 0 and is clamped to
// [0, Config.PercentileCap].
package domain
