package domain

// Window is a rate-of-change lookback expressed as a sample count.
type Window struct {
	Label   string
	Samples int
}

// Config holds the tunables for a single pipeline run.
type Config struct {
	Windows           []Window
	PercentileCap     float64
	HighFlowThreshold float64
}

// DefaultWindows assumes a 5-minute reporting cadence.
func DefaultWindows() []Window {
	return []Window{
		{Label: "1h", Samples: 12},
		{Label: "3h", Samples: 36},
		{Label: "6h", Samples: 72},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Windows:           DefaultWindows(),
		PercentileCap:     500,
		HighFlowThreshold: 1.0,
	}
}
