// Package mockdata generates deterministic synthetic gauge feeds and a
// matching baseline table for local runs and tests.
package mockdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// Options controls generation. The same options always yield the same data.
type Options struct {
	Regions      []string
	SitesPerFeed int
	Samples      int
	Step         time.Duration
	Start        time.Time
	Seed         uint64
}

// DefaultOptions produces two regions of six sites with one day of 5-minute
// readings.
func DefaultOptions() Options {
	return Options{
		Regions:      []string{"north", "south"},
		SitesPerFeed: 6,
		Samples:      288,
		Step:         5 * time.Minute,
		Start:        time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC),
		Seed:         42,
	}
}

// Site is one synthetic gauge.
type Site struct {
	ID       string
	Name     string
	Region   string
	Lat, Lon float64
	BaseFlow float64
	// Rising sites end the series well above their baseline.
	Rising bool
}

// Data is a generated set of feeds and baseline.
type Data struct {
	Sites    []Site
	Feeds    map[string][]domain.RawReading // by region
	Baseline []domain.RawBaselineEntry
}

// Generate builds readings for every site and a baseline covering each UTC
// day the readings span.
func Generate(opts Options) Data {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	data := Data{Feeds: make(map[string][]domain.RawReading, len(opts.Regions))}

	n := 0
	for r, region := range opts.Regions {
		for i := 0; i < opts.SitesPerFeed; i++ {
			n++
			site := Site{
				ID:       fmt.Sprintf("0164%04d", n*10+r),
				Name:     fmt.Sprintf("Synthetic Creek %d, %s", n, region),
				Region:   region,
				Lat:      round(38.0+rng.Float64()*1.5, 4),
				Lon:      round(-78.5+rng.Float64()*1.5, 4),
				BaseFlow: round(50+rng.Float64()*1950, 1),
				Rising:   n%3 == 0,
			}
			data.Sites = append(data.Sites, site)
			data.Feeds[region] = append(data.Feeds[region], series(site, opts, rng)...)
		}
	}

	end := opts.Start.Add(time.Duration(max(opts.Samples-1, 0)) * opts.Step)
	for _, s := range data.Sites {
		for d := opts.Start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
			data.Baseline = append(data.Baseline, domain.RawBaselineEntry{
				SiteID:    s.ID,
				SiteName:  s.Name,
				DayOfYear: strconv.Itoa(domain.DayOfYear(d)),
				P90Flow:   strconv.FormatFloat(round(s.BaseFlow*1.3, 1), 'f', -1, 64),
			})
		}
	}
	return data
}

func series(s Site, opts Options, rng *rand.Rand) []domain.RawReading {
	out := make([]domain.RawReading, 0, opts.Samples)
	for i := 0; i < opts.Samples; i++ {
		ts := opts.Start.Add(time.Duration(i) * opts.Step)
		phase := 2 * math.Pi * float64(i) / float64(max(opts.Samples, 1))
		flow := s.BaseFlow * (1 + 0.1*math.Sin(phase) + 0.02*(rng.Float64()-0.5))
		if s.Rising && i >= opts.Samples*3/4 {
			// storm pulse over the final quarter
			flow *= 1 + 1.5*float64(i-opts.Samples*3/4+1)/float64(opts.Samples/4+1)
		}

		flowText := strconv.FormatFloat(round(flow, 1), 'f', -1, 64)
		if i > 0 && i%97 == 0 {
			flowText = strconv.Itoa(domain.MissingFlowSentinel)
		}
		out = append(out, domain.RawReading{
			SiteID:    s.ID,
			SiteName:  s.Name,
			Region:    s.Region,
			Timestamp: ts.UTC().Format(time.RFC3339),
			Flow:      flowText,
			Latitude:  strconv.FormatFloat(s.Lat, 'f', -1, 64),
			Longitude: strconv.FormatFloat(s.Lon, 'f', -1, 64),
		})
	}
	return out
}

// WriteReadings writes a feed in the upstream gauge export layout.
func WriteReadings(w io.Writer, rows []domain.RawReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"site_no", "site_name", "timestamp_utc", "flow_cfs", "latitude", "longitude"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.SiteID, r.SiteName, r.Timestamp, r.Flow, r.Latitude, r.Longitude}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBaseline writes a baseline table.
func WriteBaseline(w io.Writer, rows []domain.RawBaselineEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"site_no", "site_name", "day_of_year", "p90_flow_cfs"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.SiteID, r.SiteName, r.DayOfYear, r.P90Flow}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
