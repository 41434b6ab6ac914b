package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS gauge_snapshots (
    site_id     TEXT PRIMARY KEY,
    site_name   TEXT NOT NULL DEFAULT '',
    region      TEXT NOT NULL DEFAULT '',
    latitude    DOUBLE PRECISION,
    longitude   DOUBLE PRECISION,
    observed_at TIMESTAMPTZ NOT NULL,
    day_of_year INTEGER NOT NULL,
    flow        DOUBLE PRECISION,
    pct_change  JSONB NOT NULL DEFAULT '{}',
    p90_flow    DOUBLE PRECISION,
    ratio       DOUBLE PRECISION,
    high_flow   BOOLEAN NOT NULL,
    percentile  DOUBLE PRECISION NOT NULL,
    run_id      TEXT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertSQL = `INSERT INTO gauge_snapshots (site_id, site_name, region, latitude, longitude, observed_at, day_of_year, flow, pct_change, p90_flow, ratio, high_flow, percentile, run_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,$11,$12,$13,$14,NOW())
ON CONFLICT (site_id) DO UPDATE
SET site_name = EXCLUDED.site_name,
    region = EXCLUDED.region,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    observed_at = EXCLUDED.observed_at,
    day_of_year = EXCLUDED.day_of_year,
    flow = EXCLUDED.flow,
    pct_change = EXCLUDED.pct_change,
    p90_flow = EXCLUDED.p90_flow,
    ratio = EXCLUDED.ratio,
    high_flow = EXCLUDED.high_flow,
    percentile = EXCLUDED.percentile,
    run_id = EXCLUDED.run_id,
    updated_at = NOW()`

const pruneSQL = `DELETE FROM gauge_snapshots WHERE NOT (site_id = ANY($1))`

// Store keeps the latest snapshot table in Postgres. It implements
// pipeline.Loader.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore connects to DATABASE_URL and ensures the table exists.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the snapshot table if it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create gauge_snapshots: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// Load upserts every snapshot and removes sites that dropped out of the
// table, all in one transaction.
func (s *Store) Load(ctx context.Context, res domain.Result) error {
	if len(res.Snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	ids := make([]string, len(res.Snapshots))
	for i, snap := range res.Snapshots {
		args, err := snapshotArgs(snap, res.RunID)
		if err != nil {
			return err
		}
		batch.Queue(upsertSQL, args...)
		ids[i] = snap.SiteID
	}
	batch.Queue(pruneSQL, ids)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert snapshots: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert snapshots: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("snapshots stored", "count", len(ids))
	return nil
}

// Close releases the pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// snapshotArgs maps a snapshot onto the upsert parameters. Missing values
// become NULL.
func snapshotArgs(snap domain.Snapshot, runID string) ([]any, error) {
	pct, err := json.Marshal(snap.PctChange)
	if err != nil {
		return nil, fmt.Errorf("encode pct_change for %s: %w", snap.SiteID, err)
	}
	if snap.PctChange == nil {
		pct = []byte("{}")
	}
	return []any{
		snap.SiteID,
		snap.SiteName,
		snap.Region,
		snap.Latitude,
		snap.Longitude,
		snap.Timestamp.UTC(),
		snap.DayOfYear,
		snap.Flow,
		string(pct),
		snap.P90Flow,
		snap.Ratio,
		snap.HighFlow,
		snap.Percentile,
		runID,
	}, nil
}
