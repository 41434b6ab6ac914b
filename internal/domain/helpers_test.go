package domain

import "time"

var testBase = time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC)

// testDOY is the UTC day of year for testBase (2024 is a leap year).
const testDOY = 117

func fptr(v float64) *float64 { return &v }

// series builds 5-minute readings for one site starting at testBase.
func series(siteID string, flows ...float64) []Reading {
	out := make([]Reading, len(flows))
	for i, f := range flows {
		out[i] = Reading{
			SiteID:    siteID,
			Timestamp: testBase.Add(time.Duration(i) * 5 * time.Minute),
			Flow:      fptr(f),
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
