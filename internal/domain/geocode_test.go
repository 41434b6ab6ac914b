package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockGeocoder struct {
	result GeocodingResult
	err    error
	calls  int
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLabelSites(t *testing.T) {
	t.Run("nil geocoder", func(t *testing.T) {
		snaps := []Snapshot{{SiteID: "A", Latitude: fptr(1), Longitude: fptr(2)}}
		out := LabelSites(context.Background(), snaps, nil, discardLogger())
		assert.Empty(t, out[0].SiteName)
	})

	t.Run("fills unnamed sites with coordinates", func(t *testing.T) {
		geo := &mockGeocoder{result: GeocodingResult{PlaceName: "Great Falls", FormattedAddress: "Great Falls, Virginia"}}
		snaps := []Snapshot{
			{SiteID: "A", Latitude: fptr(38.99), Longitude: fptr(-77.25)},
			{SiteID: "B", SiteName: "Named", Latitude: fptr(1), Longitude: fptr(2)},
			{SiteID: "C"},
		}
		out := LabelSites(context.Background(), snaps, geo, discardLogger())
		assert.Equal(t, "Great Falls", out[0].SiteName)
		assert.Equal(t, "Named", out[1].SiteName)
		assert.Empty(t, out[2].SiteName)
		assert.Equal(t, 1, geo.calls)
	})

	t.Run("formatted address fallback", func(t *testing.T) {
		geo := &mockGeocoder{result: GeocodingResult{FormattedAddress: "Somewhere, VA"}}
		out := LabelSites(context.Background(), []Snapshot{{SiteID: "A", Latitude: fptr(1), Longitude: fptr(2)}}, geo, discardLogger())
		assert.Equal(t, "Somewhere, VA", out[0].SiteName)
	})

	t.Run("failure leaves name empty", func(t *testing.T) {
		geo := &mockGeocoder{err: errors.New("timeout")}
		out := LabelSites(context.Background(), []Snapshot{{SiteID: "A", Latitude: fptr(1), Longitude: fptr(2)}}, geo, discardLogger())
		assert.Empty(t, out[0].SiteName)
	})
}
