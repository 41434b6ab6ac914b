package domain

// Process runs the full transform over a loaded dataset: rate of change, day
// of year, baseline join, and reduction to snapshots. It is a pure function
// of its inputs.
func Process(ds Dataset, cfg Config) Result {
	rejected := RejectCounts{}
	rejected.Merge(ds.Rejected)

	withRate := ComputeRateOfChange(ds.Readings, cfg.Windows)

	if ds.BaselineMissing {
		return Result{
			History:         withRate,
			BaselineMissing: true,
			Rejected:        rejected,
		}
	}

	normalized, dropped := NormalizeDayOfYear(withRate)
	rejected.Merge(dropped)

	table := NewBaselineTable(ds.Baseline)
	joined := JoinBaseline(normalized, table, cfg)

	return Result{
		History:            joined,
		Snapshots:          LatestSnapshots(joined),
		Rejected:           rejected,
		BaselineDuplicates: table.Duplicates(),
	}
}
