package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// Source loads the regional reading feeds and the baseline table from CSV
// files. It implements pipeline.Extractor.
type Source struct {
	feeds        []config.SourceSpec
	baselinePath string
	logger       *slog.Logger
}

// NewSource creates a Source for the configured feeds and baseline file.
func NewSource(cfg *config.Config, logger *slog.Logger) *Source {
	return &Source{
		feeds:        cfg.ReadingSources,
		baselinePath: cfg.BaselinePath,
		logger:       logger,
	}
}

// Extract reads every feed in configured order followed by the baseline.
// Absent feeds are skipped and listed in the dataset; a
// *domain.MissingSourceError is returned only when none could be opened. An
// absent baseline is flagged on the dataset rather than returned.
func (s *Source) Extract(ctx context.Context) (domain.Dataset, error) {
	ds := domain.Dataset{
		BaselinePath: s.baselinePath,
		Rejected:     domain.RejectCounts{},
	}

	loaded := 0
	for _, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			return domain.Dataset{}, err
		}
		readings, rejected, err := readReadingsFile(feed)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("reading source unavailable", "source", feed.Path, "region", feed.Region)
			ds.MissingSources = append(ds.MissingSources, feed.Path)
			continue
		}
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("load readings %s: %w", feed.Path, err)
		}
		s.logger.Debug("reading source loaded",
			"source", feed.Path, "region", feed.Region,
			"readings", len(readings), "rejected", rejected.Total())
		ds.Readings = append(ds.Readings, readings...)
		ds.Rejected.Merge(rejected)
		loaded++
	}
	if loaded == 0 {
		paths := make([]string, len(s.feeds))
		for i, f := range s.feeds {
			paths[i] = f.Path
		}
		return domain.Dataset{}, &domain.MissingSourceError{Sources: paths}
	}

	baseline, rejected, err := readBaselineFile(s.baselinePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("baseline source unavailable", "source", s.baselinePath)
		ds.BaselineMissing = true
	case err != nil:
		return domain.Dataset{}, fmt.Errorf("load baseline %s: %w", s.baselinePath, err)
	default:
		ds.Baseline = baseline
		ds.Rejected.Merge(rejected)
	}

	return ds, nil
}

func readReadingsFile(feed config.SourceSpec) ([]domain.Reading, domain.RejectCounts, error) {
	f, err := os.Open(feed.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadReadings(f, feed.Region)
}

func readBaselineFile(path string) ([]domain.BaselineEntry, domain.RejectCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadBaseline(f)
}

// ReadReadings parses a reading table. Every row is tagged with region; a
// row's own region column is used only when region is empty. Rejected rows
// are counted by reason and skipped.
func ReadReadings(r io.Reader, region string) ([]domain.Reading, domain.RejectCounts, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	if err := h.require(colSiteID, colTimestamp, colFlow); err != nil {
		return nil, nil, err
	}

	var (
		iSite   = h.index(colSiteID)
		iName   = h.index(colSiteName)
		iRegion = h.index(colRegion)
		iTime   = h.index(colTimestamp)
		iFlow   = h.index(colFlow)
		iLat    = h.index(colLatitude)
		iLon    = h.index(colLongitude)
	)

	var out []domain.Reading
	rejected := domain.RejectCounts{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isBlank(row) {
			continue
		}
		raw := domain.RawReading{
			SiteID:    field(row, iSite),
			SiteName:  field(row, iName),
			Region:    region,
			Timestamp: field(row, iTime),
			Flow:      field(row, iFlow),
			Latitude:  field(row, iLat),
			Longitude: field(row, iLon),
		}
		if raw.Region == "" {
			raw.Region = field(row, iRegion)
		}
		reading, err := domain.ParseReading(raw)
		if err != nil {
			rejected.Add(rejectReason(err))
			continue
		}
		out = append(out, reading)
	}
	return out, rejected, nil
}

// ReadBaseline parses a baseline table.
func ReadBaseline(r io.Reader) ([]domain.BaselineEntry, domain.RejectCounts, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	if err := h.require(colSiteID, colDayOfYear, colP90Flow); err != nil {
		return nil, nil, err
	}

	var (
		iSite = h.index(colSiteID)
		iName = h.index(colSiteName)
		iDay  = h.index(colDayOfYear)
		iP90  = h.index(colP90Flow)
	)

	var out []domain.BaselineEntry
	rejected := domain.RejectCounts{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isBlank(row) {
			continue
		}
		entry, err := domain.ParseBaselineEntry(domain.RawBaselineEntry{
			SiteID:    field(row, iSite),
			SiteName:  field(row, iName),
			DayOfYear: field(row, iDay),
			P90Flow:   field(row, iP90),
		})
		if err != nil {
			rejected.Add(rejectReason(err))
			continue
		}
		out = append(out, entry)
	}
	return out, rejected, nil
}

func rejectReason(err error) domain.RejectReason {
	var rr *domain.RecordRejected
	if errors.As(err, &rr) {
		return rr.Reason
	}
	return domain.RejectMalformedInput
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
