package csvfile

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// WriteBaseline renders a baseline table in the layout ReadBaseline accepts.
func WriteBaseline(w io.Writer, entries []domain.BaselineEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"site_no", "site_name", "day_of_year", "p90_flow_cfs"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.SiteID, e.SiteName, strconv.Itoa(e.DayOfYear), formatFloat(e.P90Flow)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBaselineFile atomically replaces path with the baseline table.
func WriteBaselineFile(path string, entries []domain.BaselineEntry) error {
	return writeAtomic(path, func(w io.Writer) error {
		return WriteBaseline(w, entries)
	})
}
