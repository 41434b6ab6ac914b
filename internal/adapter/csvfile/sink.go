package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// Sink writes the snapshot table and, optionally, the full history table. Each
// file is replaced atomically. It implements pipeline.Loader.
type Sink struct {
	path        string
	historyPath string
	windows     []domain.Window
	logger      *slog.Logger
}

// NewSink creates a Sink for the configured output paths.
func NewSink(cfg *config.Config, logger *slog.Logger) *Sink {
	return &Sink{
		path:        cfg.OutputPath,
		historyPath: cfg.HistoryOutputPath,
		windows:     cfg.Windows,
		logger:      logger,
	}
}

func (s *Sink) Name() string { return "csv" }

// Load writes the history table when configured, then the snapshot table. A
// result without snapshots never replaces an existing snapshot file: it
// returns domain.ErrEmptySnapshot, or nil for a baseline-less result.
func (s *Sink) Load(ctx context.Context, res domain.Result) error {
	if s.historyPath != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAtomic(s.historyPath, func(w io.Writer) error {
			return WriteHistory(w, res.History, s.windows)
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		s.logger.Debug("history table written", "path", s.historyPath, "rows", len(res.History))
	}

	if res.BaselineMissing {
		return nil
	}
	if len(res.Snapshots) == 0 {
		return domain.ErrEmptySnapshot
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(s.path, func(w io.Writer) error {
		return WriteSnapshots(w, res.Snapshots, s.windows)
	}); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	s.logger.Debug("snapshot table written", "path", s.path, "sites", len(res.Snapshots))
	return nil
}

// PreviousOrder returns the site ids of the current snapshot file in row
// order, or nil when there is no prior output.
func (s *Sink) PreviousOrder(_ context.Context) ([]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := newReader(f)
	h, err := readHeader(cr)
	if err != nil {
		return nil, fmt.Errorf("read previous output: %w", err)
	}
	i := h.index(colSiteID)
	if i < 0 {
		return nil, errors.New("read previous output: no site_id column")
	}

	var ids []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read previous output: %w", err)
		}
		if id := field(row, i); id != "" {
			ids = append(ids, id)
		}
	}
}

// Columns returns the output header for the given windows.
func Columns(windows []domain.Window) []string {
	cols := []string{"site_id", "site_name", "region", "latitude", "longitude", "timestamp", "day_of_year", "flow"}
	for _, w := range windows {
		cols = append(cols, "pct_change_"+w.Label)
	}
	return append(cols, "p90_flow", "ratio", "high_flow", "percentile")
}

// WriteSnapshots renders snapshots as CSV in the given order.
func WriteSnapshots(w io.Writer, snaps []domain.Snapshot, windows []domain.Window) error {
	rows := make([]domain.EnrichedReading, len(snaps))
	for i, s := range snaps {
		rows[i] = domain.EnrichedReading(s)
	}
	return writeRows(w, rows, windows)
}

// WriteHistory renders every enriched reading as CSV.
func WriteHistory(w io.Writer, rows []domain.EnrichedReading, windows []domain.Window) error {
	return writeRows(w, rows, windows)
}

func writeRows(w io.Writer, rows []domain.EnrichedReading, windows []domain.Window) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(windows)); err != nil {
		return err
	}
	for i := range rows {
		if err := cw.Write(record(&rows[i], windows)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(r *domain.EnrichedReading, windows []domain.Window) []string {
	rec := []string{
		r.SiteID,
		r.SiteName,
		r.Region,
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		formatDay(r.DayOfYear),
		formatFloat(r.Flow),
	}
	for _, win := range windows {
		rec = append(rec, formatFloat(r.PctChange[win.Label]))
	}
	return append(rec,
		formatFloat(r.P90Flow),
		formatFloat(r.Ratio),
		strconv.FormatBool(r.HighFlow),
		strconv.FormatFloat(r.Percentile, 'f', -1, 64),
	)
}

// formatFloat renders nil as an empty cell.
func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatDay(doy int) string {
	if doy == 0 {
		return ""
	}
	return strconv.Itoa(doy)
}

// writeAtomic writes to a temp file beside path and renames it into place.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
