package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
)

// GaugeTransformer implements Transformer using the domain transform with
// optional site labelling by reverse geocoding.
type GaugeTransformer struct {
	cfg      domain.Config
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewTransformer creates a GaugeTransformer. Pass a nil geocoder to disable
// site labelling.
func NewTransformer(cfg domain.Config, geocoder domain.Geocoder, logger *slog.Logger) *GaugeTransformer {
	return &GaugeTransformer{
		cfg:      cfg,
		geocoder: geocoder,
		logger:   logger,
	}
}

func (t *GaugeTransformer) Transform(ctx context.Context, ds domain.Dataset) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	res := domain.Process(ds, t.cfg)
	res.Snapshots = domain.LabelSites(ctx, res.Snapshots, t.geocoder, t.logger)

	return res, nil
}
