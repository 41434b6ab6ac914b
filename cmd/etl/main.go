package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/streamflow-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/streamflow-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/streamflow-etl/internal/adapter/kafka"
	"github.com/couchcryptid/streamflow-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/streamflow-etl/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/streamflow-etl/internal/adapter/redis"
	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/couchcryptid/streamflow-etl/internal/observability"
	"github.com/couchcryptid/streamflow-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox site labelling enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	}

	secondary, closers := secondarySinks(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("sink close error", "error", err)
			}
		}
	}()

	p := pipeline.New(
		csvfile.NewSource(cfg, logger),
		pipeline.NewTransformer(cfg.Domain(), geocoder, logger),
		csvfile.NewSink(cfg, logger),
		logger, metrics,
		pipeline.WithSecondary(secondary...),
	)

	if cfg.RunInterval == 0 {
		if _, err := p.RunOnce(ctx); err != nil {
			logger.Error("pipeline run failed", "error", err)
			return 1
		}
		return 0
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := p.Run(ctx, cfg.RunInterval); err != nil {
		logger.Error("pipeline error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// secondarySinks builds the optional Kafka, Redis, and Postgres sinks, each
// behind its own circuit breaker. A sink that cannot be constructed is
// skipped with a warning.
func secondarySinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]pipeline.Loader, []io.Closer) {
	var (
		loaders []pipeline.Loader
		closers []io.Closer
	)
	guard := func(name string, l pipeline.Loader) {
		g := pipeline.NewGuardedLoader(name, l, uint32(cfg.SinkBreakerFailures), cfg.SinkBreakerTimeout, logger)
		loaders = append(loaders, g)
		closers = append(closers, g)
		logger.Info("secondary sink enabled", "sink", name)
	}

	if len(cfg.KafkaBrokers) > 0 {
		guard("kafka", kafkaadapter.NewWriter(cfg, logger))
	}

	if cfg.RedisURL != "" {
		cache, err := redisadapter.NewCache(cfg, logger)
		if err != nil {
			logger.Warn("redis sink disabled", "error", err)
		} else {
			if err := cache.Ping(ctx); err != nil {
				logger.Warn("redis ping failed, will retry on each run", "error", err)
			}
			guard("redis", cache)
		}
	}

	if cfg.DatabaseURL != "" {
		store, err := postgres.NewStore(ctx, cfg, logger)
		if err != nil {
			logger.Warn("postgres sink disabled", "error", err)
		} else {
			guard("postgres", store)
		}
	}

	return loaders, closers
}
