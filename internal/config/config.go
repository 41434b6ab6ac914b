package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/joho/godotenv"
)

// SourceSpec is one regional reading feed.
type SourceSpec struct {
	Region string
	Path   string
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	ReadingSources    []SourceSpec
	BaselinePath      string
	OutputPath        string
	HistoryOutputPath string

	Windows           []domain.Window
	PercentileCap     float64
	HighFlowThreshold float64

	// RunInterval of zero runs the pipeline once and exits.
	RunInterval     time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Secondary sinks, each disabled when its address is empty.
	KafkaBrokers   []string
	KafkaTopic     string
	RedisURL       string
	RedisKeyPrefix string
	RedisTTL       time.Duration
	DatabaseURL    string

	SinkBreakerFailures int
	SinkBreakerTimeout  time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if
// present; variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	sources, err := ParseSources(sharedcfg.EnvOrDefault("READING_SOURCES", "data/north_va.csv,data/south_va.csv"))
	if err != nil {
		return nil, err
	}

	windows, err := ParseWindows(sharedcfg.EnvOrDefault("ROC_WINDOWS", "1h=12,3h=36,6h=72"))
	if err != nil {
		return nil, err
	}

	percentileCap, err := parsePositiveFloat("PERCENTILE_CAP", "500")
	if err != nil {
		return nil, err
	}
	threshold, err := parsePositiveFloat("HIGH_FLOW_THRESHOLD", "1.0")
	if err != nil {
		return nil, err
	}

	runInterval, err := parseDuration("RUN_INTERVAL", "0s", true)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseDuration("REDIS_TTL", "2h", false)
	if err != nil {
		return nil, err
	}
	breakerTimeout, err := parseDuration("SINK_BREAKER_TIMEOUT", "1m", false)
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s", false)
	if err != nil {
		return nil, err
	}

	breakerFailures, err := parsePositiveInt("SINK_BREAKER_FAILURES", "3")
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		ReadingSources:    sources,
		BaselinePath:      sharedcfg.EnvOrDefault("BASELINE_PATH", "data/historical_p90.csv"),
		OutputPath:        sharedcfg.EnvOrDefault("OUTPUT_PATH", "data/gauge_data_processed.csv"),
		HistoryOutputPath: os.Getenv("HISTORY_OUTPUT_PATH"),

		Windows:           windows,
		PercentileCap:     percentileCap,
		HighFlowThreshold: threshold,

		RunInterval:     runInterval,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:   sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "gauge-snapshots"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisKeyPrefix: sharedcfg.EnvOrDefault("REDIS_KEY_PREFIX", "gauge"),
		RedisTTL:       redisTTL,
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		SinkBreakerFailures: breakerFailures,
		SinkBreakerTimeout:  breakerTimeout,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if cfg.BaselinePath == "" {
		return nil, errors.New("BASELINE_PATH is required")
	}
	if cfg.OutputPath == "" {
		return nil, errors.New("OUTPUT_PATH is required")
	}
	if cfg.HistoryOutputPath != "" && filepath.Clean(cfg.HistoryOutputPath) == filepath.Clean(cfg.OutputPath) {
		return nil, errors.New("HISTORY_OUTPUT_PATH must differ from OUTPUT_PATH")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// Domain returns the transform settings.
func (c *Config) Domain() domain.Config {
	return domain.Config{
		Windows:           c.Windows,
		PercentileCap:     c.PercentileCap,
		HighFlowThreshold: c.HighFlowThreshold,
	}
}

// ParseSources reads a comma separated list of "path" or "region=path"
// entries. Without an explicit region the file name prefix before the first
// underscore or dot is used, so "data/north_va.csv" is region "north".
func ParseSources(s string) ([]SourceSpec, error) {
	var out []SourceSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		region, path, ok := strings.Cut(part, "=")
		if !ok {
			path = region
			region = RegionFromPath(path)
		}
		region, path = strings.TrimSpace(region), strings.TrimSpace(path)
		if path == "" {
			return nil, fmt.Errorf("invalid READING_SOURCES entry %q", part)
		}
		out = append(out, SourceSpec{Region: region, Path: path})
	}
	if len(out) == 0 {
		return nil, errors.New("READING_SOURCES is required")
	}
	return out, nil
}

// RegionFromPath derives a region tag from a feed file name.
func RegionFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexAny(base, "_."); i >= 0 {
		return base[:i]
	}
	return base
}

// ParseWindows reads "label=samples" pairs, e.g. "1h=12,3h=36".
func ParseWindows(s string) ([]domain.Window, error) {
	var out []domain.Window
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, count, ok := strings.Cut(part, "=")
		label = strings.TrimSpace(label)
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if !ok || label == "" || err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ROC_WINDOWS entry %q", part)
		}
		if seen[label] {
			return nil, fmt.Errorf("invalid ROC_WINDOWS: duplicate label %q", label)
		}
		seen[label] = true
		out = append(out, domain.Window{Label: label, Samples: n})
	}
	if len(out) == 0 {
		return nil, errors.New("ROC_WINDOWS is required")
	}
	return out, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parsePositiveInt(key, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
