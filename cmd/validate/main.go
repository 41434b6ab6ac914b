// Command validate checks a snapshot table written by the pipeline against
// its output guarantees: one row per site, no NaN/Inf or sentinel literals,
// percentile within bounds, and high_flow, ratio and percentile consistent
// with flow and p90.
//
// Usage:
//
//	go run ./cmd/validate -snapshot data/gauge_data_processed.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// limits are the bounds the table was produced with.
type limits struct {
	percentileCap float64
	threshold     float64
}

func main() {
	path := flag.String("snapshot", "data/gauge_data_processed.csv", "snapshot CSV to validate")
	percentileCap := flag.Float64("percentile-cap", 500, "upper bound for percentile")
	threshold := flag.Float64("threshold", 1.0, "high-flow ratio threshold")
	flag.Parse()

	os.Exit(run(*path, limits{percentileCap: *percentileCap, threshold: *threshold}, os.Stdout))
}

func run(path string, lim limits, out io.Writer) int {
	fmt.Fprintln(out, "=== Snapshot Table Validation ===")
	fmt.Fprintln(out)

	rows, err := loadCSV(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load %s: %v\n", path, err)
		return 1
	}

	phases := validate(rows, lim)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-36s %s\n", p.name, status)
	}
	fmt.Fprintf(out, "\nRows: %d\n", len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validate(rows []csvRow, lim limits) []*phase {
	return []*phase{
		validateSchema(rows),
		validateUniqueness(rows),
		validateLiterals(rows),
		validateDerived(rows, lim),
	}
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

func loadCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]csvRow, error) {
	all, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	header := all[0]
	rows := make([]csvRow, 0, len(all)-1)
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return rows, nil
}

// ── Phases ──

var requiredColumns = []string{
	"site_id", "site_name", "region", "latitude", "longitude", "timestamp",
	"day_of_year", "flow", "p90_flow", "ratio", "high_flow", "percentile",
}

func validateSchema(rows []csvRow) *phase {
	p := &phase{name: "Schema"}
	for _, col := range requiredColumns {
		if _, ok := rows[0].fields[col]; !ok {
			p.errorf("missing column %q", col)
		}
	}
	hasWindow := false
	for col := range rows[0].fields {
		if strings.HasPrefix(col, "pct_change_") {
			hasWindow = true
		}
	}
	if !hasWindow {
		p.errorf("no pct_change_<window> columns")
	}
	return p
}

func validateUniqueness(rows []csvRow) *phase {
	p := &phase{name: "One row per site"}
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		id := r.fields["site_id"]
		if id == "" {
			p.errorf("line %d: empty site_id", r.lineNum)
			continue
		}
		if prev, ok := seen[id]; ok {
			p.errorf("line %d: site %s already on line %d", r.lineNum, id, prev)
			continue
		}
		seen[id] = r.lineNum
	}
	return p
}

func validateLiterals(rows []csvRow) *phase {
	p := &phase{name: "No NaN/Inf/sentinel literals"}
	sentinel := strconv.Itoa(domain.MissingFlowSentinel)
	for _, r := range rows {
		for col, v := range r.fields {
			if isNonFinite(v) || v == sentinel {
				p.errorf("line %d: %s = %q", r.lineNum, col, v)
			}
		}
	}
	return p
}

func validateDerived(rows []csvRow, lim limits) *phase {
	p := &phase{name: "Derived columns consistent"}
	for _, r := range rows {
		f := r.fields
		ts, err := time.Parse(time.RFC3339, f["timestamp"])
		if err != nil {
			p.errorf("line %d: bad timestamp %q", r.lineNum, f["timestamp"])
		} else if doy, err := strconv.Atoi(f["day_of_year"]); err != nil || doy != domain.DayOfYear(ts) {
			p.errorf("line %d: day_of_year %q does not match %s", r.lineNum, f["day_of_year"], f["timestamp"])
		}

		flow, hasFlow := optFloat(f["flow"])
		if !hasFlow {
			p.errorf("line %d: snapshot without flow", r.lineNum)
		}
		p90, hasP90 := optFloat(f["p90_flow"])
		if hasP90 && p90 <= 0 {
			p.errorf("line %d: non-positive p90_flow %g", r.lineNum, p90)
		}
		ratio, hasRatio := optFloat(f["ratio"])
		if hasRatio != (hasFlow && hasP90 && p90 > 0) {
			p.errorf("line %d: ratio present=%t with flow present=%t and p90 present=%t", r.lineNum, hasRatio, hasFlow, hasP90)
		}
		if hasRatio && hasFlow && hasP90 && math.Abs(ratio-flow/p90) > 1e-6*math.Max(1, math.Abs(ratio)) {
			p.errorf("line %d: ratio %g != flow/p90 %g", r.lineNum, ratio, flow/p90)
		}

		high, err := strconv.ParseBool(f["high_flow"])
		if err != nil {
			p.errorf("line %d: bad high_flow %q", r.lineNum, f["high_flow"])
		} else if want := hasRatio && ratio >= lim.threshold; high != want {
			p.errorf("line %d: high_flow %t but ratio %q", r.lineNum, high, f["ratio"])
		}

		pct, err := strconv.ParseFloat(f["percentile"], 64)
		if err != nil {
			p.errorf("line %d: bad percentile %q", r.lineNum, f["percentile"])
			continue
		}
		if pct < 0 || pct > lim.percentileCap {
			p.errorf("line %d: percentile %g outside [0, %g]", r.lineNum, pct, lim.percentileCap)
		}
		want := 0.0
		if hasRatio {
			want = math.Min(math.Max(ratio*100, 0), lim.percentileCap)
		}
		if math.Abs(pct-want) > 1e-6*math.Max(1, want) {
			p.errorf("line %d: percentile %g, expected %g from ratio", r.lineNum, pct, want)
		}
	}
	return p
}

func isNonFinite(s string) bool {
	switch strings.TrimLeft(strings.ToLower(s), "+-") {
	case "nan", "inf", "infinity":
		return true
	}
	return false
}

func optFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
