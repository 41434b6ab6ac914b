package domain

import (
	"context"
	"log/slog"
)

// LabelSites fills in the name of snapshots that have coordinates but no name
// in either source table. Lookup failures leave the name empty (graceful
// degradation). A nil geocoder returns snaps unchanged.
func LabelSites(ctx context.Context, snaps []Snapshot, geocoder Geocoder, logger *slog.Logger) []Snapshot {
	if geocoder == nil {
		return snaps
	}

	for i := range snaps {
		s := &snaps[i]
		if s.SiteName != "" || s.Latitude == nil || s.Longitude == nil {
			continue
		}

		result, err := geocoder.ReverseGeocode(ctx, *s.Latitude, *s.Longitude)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"site_id", s.SiteID,
				"lat", *s.Latitude,
				"lon", *s.Longitude,
				"error", err,
			)
			continue
		}
		if result.PlaceName != "" {
			s.SiteName = result.PlaceName
		} else if result.FormattedAddress != "" {
			s.SiteName = result.FormattedAddress
		}
	}
	return snaps
}
