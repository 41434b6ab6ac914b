package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{PlaceName: "Great Falls", FormattedAddress: "Great Falls, VA"}}
	metrics := testMetrics()
	cached := NewCachedGeocoder(inner, 10, metrics)

	r1, err := cached.ReverseGeocode(context.Background(), 38.99812, -77.24671)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), 38.99814, -77.24669)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "nearby coordinates share a cache entry")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{PlaceName: "X"}}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 38.9, -77.2)
	_, _ = cached.ReverseGeocode(context.Background(), 39.1, -77.2)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_EmptyAndErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 38.9, -77.2)
	_, _ = cached.ReverseGeocode(context.Background(), 38.9, -77.2)
	assert.Equal(t, 2, inner.calls)

	inner.err = errors.New("boom")
	_, err := cached.ReverseGeocode(context.Background(), 38.9, -77.2)
	require.Error(t, err)
	assert.Zero(t, cached.cache.len())
}

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", domain.GeocodingResult{PlaceName: "A"})

	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "A", got.PlaceName)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", domain.GeocodingResult{PlaceName: "A"})
	c.put("b", domain.GeocodingResult{PlaceName: "B"})
	c.put("c", domain.GeocodingResult{PlaceName: "C"})

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry evicted")
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", domain.GeocodingResult{PlaceName: "A"})
	c.put("b", domain.GeocodingResult{PlaceName: "B"})
	_, _ = c.get("a")
	c.put("c", domain.GeocodingResult{PlaceName: "C"})

	_, ok := c.get("a")
	assert.True(t, ok)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", domain.GeocodingResult{PlaceName: "old"})
	c.put("a", domain.GeocodingResult{PlaceName: "new"})

	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "new", got.PlaceName)
	assert.Equal(t, 1, c.len())
}
