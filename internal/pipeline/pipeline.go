package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/couchcryptid/streamflow-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Extractor loads the inputs for one run.
type Extractor interface {
	Extract(ctx context.Context) (domain.Dataset, error)
}

// Transformer turns a loaded dataset into a result.
type Transformer interface {
	Transform(ctx context.Context, ds domain.Dataset) (domain.Result, error)
}

// Loader writes a result to one destination.
type Loader interface {
	Load(ctx context.Context, res domain.Result) error
}

// OrderSource is implemented by loaders that can report the site order of
// their previous output, so row order stays stable across runs.
type OrderSource interface {
	PreviousOrder(ctx context.Context) ([]string, error)
}

type namer interface {
	Name() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSecondary adds best-effort sinks. Their failures are logged and counted
// but never fail a run.
func WithSecondary(loaders ...Loader) Option {
	return func(p *Pipeline) { p.secondary = append(p.secondary, loaders...) }
}

// WithClock overrides the wall clock used for scheduling and timing.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLoadRetries sets how many times a failed primary load is retried.
func WithLoadRetries(n int) Option {
	return func(p *Pipeline) { p.loadRetries = n }
}

// Pipeline orchestrates the extract-transform-load run.
type Pipeline struct {
	extractor   Extractor
	transformer Transformer
	primary     Loader
	secondary   []Loader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	loadRetries int

	mu      sync.Mutex
	ready   atomic.Bool
	lastRun atomic.Pointer[RunStatus]
}

// RunStatus summarizes the most recent run.
type RunStatus struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	Outcome       string    `json:"outcome"`
	Sites         int       `json:"sites"`
	HighFlowSites []string  `json:"high_flow_sites"`
	Rejected      int       `json:"rejected"`
	Error         string    `json:"error,omitempty"`
}

// New creates a Pipeline. The primary loader is authoritative: its failure
// fails the run.
func New(e Extractor, t Transformer, primary Loader, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   e,
		transformer: t,
		primary:     primary,
		logger:      logger,
		metrics:     metrics,
		clock:       clockwork.NewRealClock(),
		loadRetries: 2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes the pipeline immediately and then on every interval tick until
// the context is cancelled. Failed runs are logged; the next tick tries again.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid run interval %s", interval)
	}
	p.logger.Info("pipeline started", "interval", interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("pipeline run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce performs a single full run: load every source, recompute, and
// replace the outputs. Concurrent calls are serialized.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)

	res, outcome, err := p.run(ctx, runID, logger)
	elapsed := p.clock.Since(start)
	p.metrics.Runs.WithLabelValues(outcome).Inc()
	p.metrics.RunDuration.Observe(elapsed.Seconds())
	p.recordStatus(runID, start, elapsed, outcome, res, err)
	if err != nil {
		return res, err
	}

	p.ready.Store(true)
	logger.Info("pipeline run complete",
		"sites", len(res.Snapshots),
		"readings", len(res.History),
		"rejected", res.Rejected.Total(),
		"duration", elapsed,
	)
	return res, nil
}

// LastRun returns the status of the most recent run, if any.
func (p *Pipeline) LastRun() (RunStatus, bool) {
	st := p.lastRun.Load()
	if st == nil {
		return RunStatus{}, false
	}
	return *st, true
}

func (p *Pipeline) recordStatus(runID string, start time.Time, elapsed time.Duration, outcome string, res domain.Result, err error) {
	st := &RunStatus{
		RunID:         runID,
		StartedAt:     start.UTC(),
		DurationMS:    elapsed.Milliseconds(),
		Outcome:       outcome,
		Sites:         len(res.Snapshots),
		HighFlowSites: []string{},
		Rejected:      res.Rejected.Total(),
	}
	for _, s := range res.HighFlowSites() {
		st.HighFlowSites = append(st.HighFlowSites, s.SiteID)
	}
	if err != nil {
		st.Error = err.Error()
	}
	p.lastRun.Store(st)
}

func (p *Pipeline) run(ctx context.Context, runID string, logger *slog.Logger) (domain.Result, string, error) {
	ds, err := p.extractor.Extract(ctx)
	if err != nil {
		var missing *domain.MissingSourceError
		if errors.As(err, &missing) {
			p.metrics.SourcesMissing.Add(float64(len(missing.Sources)))
			return domain.Result{}, "missing_source", err
		}
		return domain.Result{}, "extract_error", fmt.Errorf("extract: %w", err)
	}
	if w := ds.PartialWarning(); w != nil {
		logger.Warn("continuing with partial sources", "error", w)
		p.metrics.SourcesMissing.Add(float64(len(w.Missing)))
	}
	p.metrics.ReadingsLoaded.Add(float64(len(ds.Readings)))

	res, err := p.transformer.Transform(ctx, ds)
	if err != nil {
		return domain.Result{}, "transform_error", fmt.Errorf("transform: %w", err)
	}
	res.RunID = runID
	p.recordRejects(logger, res.Rejected)

	if res.BaselineMissing {
		if err := p.loadPrimary(ctx, res); err != nil {
			return res, "load_error", fmt.Errorf("load history: %w", err)
		}
		return res, "missing_baseline", &domain.MissingBaselineError{Path: ds.BaselinePath}
	}

	p.metrics.BaselineDuplicates.Set(float64(len(res.BaselineDuplicates)))
	if n := len(res.BaselineDuplicates); n > 0 {
		first := res.BaselineDuplicates[0]
		logger.Warn("duplicate baseline entries ignored",
			"count", n, "first_site", first.SiteID, "first_day", first.DayOfYear)
	}

	res.Snapshots = domain.OrderSnapshots(res.Snapshots, p.previousOrder(ctx, logger))

	if err := p.loadPrimary(ctx, res); err != nil {
		return res, "load_error", fmt.Errorf("load: %w", err)
	}
	p.loadSecondary(ctx, logger, res)

	high := res.HighFlowSites()
	p.metrics.SnapshotSites.Set(float64(len(res.Snapshots)))
	p.metrics.HighFlowSites.Set(float64(len(high)))
	logHighFlow(logger, high)

	return res, "success", nil
}

func (p *Pipeline) previousOrder(ctx context.Context, logger *slog.Logger) []string {
	src, ok := p.primary.(OrderSource)
	if !ok {
		return nil
	}
	ids, err := src.PreviousOrder(ctx)
	if err != nil {
		logger.Warn("previous output unreadable, using site order", "error", err)
		return nil
	}
	return ids
}

// loadPrimary retries transient failures with exponential backoff. An empty
// snapshot is not retried.
func (p *Pipeline) loadPrimary(ctx context.Context, res domain.Result) error {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for attempt := 0; ; attempt++ {
		err := p.primary.Load(ctx, res)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrEmptySnapshot) || attempt >= p.loadRetries || ctx.Err() != nil {
			p.metrics.SinkErrors.WithLabelValues(loaderName(p.primary)).Inc()
			return err
		}
		p.logger.Warn("primary load failed, retrying", "error", err, "attempt", attempt+1, "backoff", backoff)
		if !p.sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

func (p *Pipeline) loadSecondary(ctx context.Context, logger *slog.Logger, res domain.Result) {
	for _, l := range p.secondary {
		if err := l.Load(ctx, res); err != nil {
			name := loaderName(l)
			logger.Warn("secondary sink failed", "sink", name, "error", err)
			p.metrics.SinkErrors.WithLabelValues(name).Inc()
		}
	}
}

func (p *Pipeline) recordRejects(logger *slog.Logger, rejected domain.RejectCounts) {
	for reason, n := range rejected {
		p.metrics.ReadingsRejected.WithLabelValues(string(reason)).Add(float64(n))
	}
	if total := rejected.Total(); total > 0 {
		logger.Info("rows rejected",
			"total", total,
			"missing_site_id", rejected[domain.RejectMissingSiteID],
			"bad_timestamp", rejected[domain.RejectBadTimestamp],
			"missing_flow", rejected[domain.RejectMissingFlow],
			"bad_day_of_year", rejected[domain.RejectBadDayOfYear],
		)
	}
}

func logHighFlow(logger *slog.Logger, high []domain.Snapshot) {
	if len(high) == 0 {
		logger.Info("no sites above baseline")
		return
	}
	for _, s := range high {
		attrs := []any{"site_id", s.SiteID, "site_name", s.SiteName}
		if s.Ratio != nil {
			attrs = append(attrs, "ratio", *s.Ratio)
		}
		logger.Info("high flow site", attrs...)
	}
	logger.Info("sites above baseline", "count", len(high))
}

func loaderName(l Loader) string {
	if n, ok := l.(namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", l)
}

// sleepWithContext mirrors retry.SleepWithContext on the injected clock.
func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
