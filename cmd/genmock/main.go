// Command genmock writes deterministic synthetic gauge feeds and a matching
// baseline table, so the pipeline can be run locally without upstream data.
// A third of the sites rise well above their baseline over the final quarter
// of the series.
//
// Usage:
//
//	go run ./cmd/genmock -out-dir data -sites 6 -samples 288
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := mockdata.DefaultOptions()

	outDir := flag.String("out-dir", "data", "directory for generated CSV files")
	regions := flag.String("regions", strings.Join(opts.Regions, ","), "comma separated region names, one feed each")
	flag.IntVar(&opts.SitesPerFeed, "sites", opts.SitesPerFeed, "sites per feed")
	flag.IntVar(&opts.Samples, "samples", opts.Samples, "readings per site")
	flag.DurationVar(&opts.Step, "step", opts.Step, "time between readings")
	flag.Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	start := flag.String("start", opts.Start.Format(time.DateOnly), "first reading date (UTC)")
	flag.Parse()

	t, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	opts.Start = t
	opts.Regions = nil
	for _, r := range strings.Split(*regions, ",") {
		if r = strings.TrimSpace(r); r != "" {
			opts.Regions = append(opts.Regions, r)
		}
	}
	if len(opts.Regions) == 0 || opts.SitesPerFeed <= 0 || opts.Samples <= 0 || opts.Step <= 0 {
		flag.Usage()
		return fmt.Errorf("regions, sites, samples and step must be positive")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	data := mockdata.Generate(opts)
	for _, region := range opts.Regions {
		path := filepath.Join(*outDir, region+"_va.csv")
		rows := data.Feeds[region]
		if err := writeFile(path, func(w io.Writer) error { return mockdata.WriteReadings(w, rows) }); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("%s: %d readings", path, len(rows))
	}

	path := filepath.Join(*outDir, "historical_p90.csv")
	if err := writeFile(path, func(w io.Writer) error { return mockdata.WriteBaseline(w, data.Baseline) }); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Printf("%s: %d baseline entries", path, len(data.Baseline))

	rising := 0
	for _, s := range data.Sites {
		if s.Rising {
			rising++
		}
	}
	log.Printf("total: %d sites, %d expected above baseline", len(data.Sites), rising)
	return nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
