package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotCached is returned when a site has no snapshot in the cache.
var ErrNotCached = errors.New("snapshot not cached")

// Cache mirrors the latest snapshot table into Redis for low-latency reads:
// one JSON value per site under "<prefix>:snapshot:<site_id>" and the table
// order as a list under "<prefix>:sites". It implements pipeline.Loader.
type Cache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache connects to the configured Redis URL.
func NewCache(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return newCache(goredis.NewClient(opts), cfg.RedisKeyPrefix, cfg.RedisTTL, logger), nil
}

func newCache(client *goredis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *Cache) Name() string { return "redis" }

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Load replaces the cached table in one MULTI/EXEC transaction so readers
// never see a half-written run. Snapshots of sites listed by the previous run
// but absent from this one are deleted in the same transaction.
func (c *Cache) Load(ctx context.Context, res domain.Result) error {
	if len(res.Snapshots) == 0 {
		return nil
	}

	values := make(map[string][]byte, len(res.Snapshots))
	ids := make([]any, len(res.Snapshots))
	for i, s := range res.Snapshots {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", s.SiteID, err)
		}
		values[c.snapshotKey(s.SiteID)] = data
		ids[i] = s.SiteID
	}

	var stale int
	err := c.client.Watch(ctx, func(tx *goredis.Tx) error {
		previous, err := tx.LRange(ctx, c.sitesKey(), 0, -1).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			stale = 0
			for _, id := range previous {
				if _, ok := values[c.snapshotKey(id)]; !ok {
					pipe.Del(ctx, c.snapshotKey(id))
					stale++
				}
			}
			for key, data := range values {
				pipe.Set(ctx, key, data, c.ttl)
			}
			pipe.Del(ctx, c.sitesKey())
			pipe.RPush(ctx, c.sitesKey(), ids...)
			pipe.Expire(ctx, c.sitesKey(), c.ttl)
			pipe.Set(ctx, c.key("run_id"), res.RunID, c.ttl)
			return nil
		})
		return err
	}, c.sitesKey())
	if err != nil {
		return fmt.Errorf("cache snapshots: %w", err)
	}
	c.logger.Debug("snapshots cached", "count", len(values), "evicted", stale, "ttl", c.ttl)
	return nil
}

// Snapshot returns the cached snapshot for a site.
func (c *Cache) Snapshot(ctx context.Context, siteID string) (domain.Snapshot, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(siteID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Snapshot{}, ErrNotCached
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("get snapshot %s: %w", siteID, err)
	}
	var s domain.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot %s: %w", siteID, err)
	}
	return s, nil
}

// Sites returns the cached table order.
func (c *Cache) Sites(ctx context.Context) ([]string, error) {
	return c.client.LRange(ctx, c.sitesKey(), 0, -1).Result()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(suffix string) string { return c.prefix + ":" + suffix }

func (c *Cache) snapshotKey(siteID string) string { return c.key("snapshot:" + siteID) }

func (c *Cache) sitesKey() string { return c.key("sites") }
