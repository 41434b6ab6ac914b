// Command baseline builds the historical flow baseline table from a long
// reading history: one row per site and UTC day of year holding the
// empirical quantile (p90 by default) of every flow observed on that day.
//
// Usage:
//
//	go run ./cmd/baseline \
//	  -in data/history/north_va.csv,data/history/south_va.csv \
//	  -out data/historical_p90.csv
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/couchcryptid/streamflow-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "comma separated reading history CSV files")
	out := flag.String("out", "data/historical_p90.csv", "output baseline CSV path")
	quantile := flag.Float64("quantile", 0.9, "quantile in (0, 1]")
	minSamples := flag.Int("min-samples", 1, "fewest flows a site needs on a day to get an entry")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}
	if *quantile <= 0 || *quantile > 1 {
		return fmt.Errorf("invalid -quantile %g", *quantile)
	}

	var history []domain.Reading
	rejected := domain.RejectCounts{}
	for _, path := range strings.Split(*in, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		readings, r, err := readFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		history = append(history, readings...)
		rejected.Merge(r)
		log.Printf("%s: %d readings, %d rejected", path, len(readings), r.Total())
	}

	entries := domain.BuildBaseline(history, domain.BaselineOptions{Quantile: *quantile, MinSamples: *minSamples})
	if len(entries) == 0 {
		return fmt.Errorf("no baseline entries produced from %d readings", len(history))
	}

	if err := csvfile.WriteBaselineFile(*out, entries); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	log.Printf("wrote %d baseline entries to %s (%d rows rejected)", len(entries), *out, rejected.Total())
	return nil
}

func readFile(path string) ([]domain.Reading, domain.RejectCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return csvfile.ReadReadings(f, "")
}
