package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Accepted header names per logical column, matched case-insensitively.
var (
	colSiteID    = []string{"site_no", "site_id"}
	colSiteName  = []string{"site_name"}
	colRegion    = []string{"region"}
	colTimestamp = []string{"timestamp_utc", "timestamp"}
	colFlow      = []string{"flow_cfs", "flow"}
	colLatitude  = []string{"latitude", "lat"}
	colLongitude = []string{"longitude", "lon"}
	colDayOfYear = []string{"day_of_year"}
	colP90Flow   = []string{"p90_flow_cfs", "p90_flow"}
)

// header maps lowercased column names to their position.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	row, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(row))
	for i, name := range row {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h, nil
}

// index returns the position of the first alias present, or -1.
func (h header) index(aliases []string) int {
	for _, a := range aliases {
		if i, ok := h[a]; ok {
			return i
		}
	}
	return -1
}

func (h header) require(aliases ...[]string) error {
	for _, a := range aliases {
		if h.index(a) < 0 {
			return fmt.Errorf("missing required column %s", strings.Join(a, "/"))
		}
	}
	return nil
}

// field returns the trimmed cell at i, or "" when the column is absent or the
// row is short.
func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}
