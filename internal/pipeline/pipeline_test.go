package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/couchcryptid/streamflow-etl/internal/observability"
	"github.com/couchcryptid/streamflow-etl/internal/pipeline"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	ds    domain.Dataset
	err   error
	calls atomic.Int64
}

func (m *mockExtractor) Extract(_ context.Context) (domain.Dataset, error) {
	m.calls.Add(1)
	if m.err != nil {
		return domain.Dataset{}, m.err
	}
	return m.ds, nil
}

type mockLoader struct {
	mu      sync.Mutex
	name    string
	loaded  []domain.Result
	errs    []error // consumed one per call, the last entry repeats
	calls   int
	prevIDs []string
}

func (m *mockLoader) Name() string { return m.name }

func (m *mockLoader) Load(_ context.Context, res domain.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		if len(m.errs) > 1 {
			m.errs = m.errs[1:]
		}
		if err != nil {
			return err
		}
	}
	m.loaded = append(m.loaded, res)
	return nil
}

func (m *mockLoader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// orderedLoader also reports a previous output order.
type orderedLoader struct {
	mockLoader
}

func (o *orderedLoader) PreviousOrder(_ context.Context) ([]string, error) {
	return o.prevIDs, nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testStart = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

// testDataset has two sites: A above its baseline and B below.
func testDataset() domain.Dataset {
	reading := func(site string, minutes int, flow float64) domain.Reading {
		return domain.Reading{SiteID: site, Timestamp: testStart.Add(time.Duration(minutes) * time.Minute), Flow: fptr(flow)}
	}
	doy := domain.DayOfYear(testStart)
	return domain.Dataset{
		Readings: []domain.Reading{
			reading("B", 0, 10),
			reading("A", 0, 100),
			reading("A", 5, 150),
			reading("B", 5, 12),
		},
		Baseline: []domain.BaselineEntry{
			{SiteID: "A", SiteName: "Alpha", DayOfYear: doy, P90Flow: fptr(100)},
			{SiteID: "B", SiteName: "Bravo", DayOfYear: doy, P90Flow: fptr(100)},
		},
		BaselinePath: "p90.csv",
	}
}

func newTestPipeline(ext pipeline.Extractor, primary pipeline.Loader, metrics *observability.Metrics, opts ...pipeline.Option) *pipeline.Pipeline {
	tfm := pipeline.NewTransformer(domain.DefaultConfig(), nil, discardLogger())
	return pipeline.New(ext, tfm, primary, discardLogger(), metrics, opts...)
}

// --- RunOnce ---

func TestPipeline_RunOnce_HappyPath(t *testing.T) {
	ext := &mockExtractor{ds: testDataset()}
	primary := &orderedLoader{}
	primary.prevIDs = []string{"B"}
	secondary := &mockLoader{name: "kafka"}
	metrics := newTestMetrics()

	p := newTestPipeline(ext, primary, metrics, pipeline.WithSecondary(secondary))
	require.Error(t, p.CheckReadiness(context.Background()))

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	require.NoError(t, err)

	require.Len(t, res.Snapshots, 2)
	assert.Equal(t, "B", res.Snapshots[0].SiteID, "previous order is kept")
	assert.Equal(t, "A", res.Snapshots[1].SiteID)
	assert.True(t, res.Snapshots[1].HighFlow)
	assert.False(t, res.Snapshots[0].HighFlow)

	require.Len(t, primary.loaded, 1)
	require.Len(t, secondary.loaded, 1)
	assert.Equal(t, res.RunID, secondary.loaded[0].RunID)

	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("success")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.ReadingsLoaded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SnapshotSites), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HighFlowSites), 0)
}

func TestPipeline_RunOnce_SortedWithoutPreviousOutput(t *testing.T) {
	primary := &mockLoader{}
	p := newTestPipeline(&mockExtractor{ds: testDataset()}, primary, newTestMetrics())

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 2)
	assert.Equal(t, "A", res.Snapshots[0].SiteID)
	assert.Equal(t, "B", res.Snapshots[1].SiteID)
}

func TestPipeline_RunOnce_MissingSource(t *testing.T) {
	ext := &mockExtractor{err: &domain.MissingSourceError{Sources: []string{"north.csv", "south.csv"}}}
	primary := &mockLoader{}
	metrics := newTestMetrics()
	p := newTestPipeline(ext, primary, metrics)

	_, err := p.RunOnce(context.Background())
	var missing *domain.MissingSourceError
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, primary.callCount(), "nothing is written")
	require.Error(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SourcesMissing), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("missing_source")), 0)
}

func TestPipeline_RunOnce_PartialSources(t *testing.T) {
	ds := testDataset()
	ds.MissingSources = []string{"south.csv"}
	metrics := newTestMetrics()
	p := newTestPipeline(&mockExtractor{ds: ds}, &mockLoader{}, metrics)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Snapshots, 2)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourcesMissing), 0)
}

func TestPipeline_RunOnce_MissingBaseline(t *testing.T) {
	ds := testDataset()
	ds.Baseline = nil
	ds.BaselineMissing = true
	primary := &mockLoader{}
	secondary := &mockLoader{name: "redis"}
	p := newTestPipeline(&mockExtractor{ds: ds}, primary, newTestMetrics(), pipeline.WithSecondary(secondary))

	res, err := p.RunOnce(context.Background())
	var missing *domain.MissingBaselineError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "p90.csv", missing.Path)

	assert.True(t, res.BaselineMissing)
	assert.Empty(t, res.Snapshots)
	assert.Len(t, res.History, 4, "rate-of-change history is still produced")
	require.Len(t, primary.loaded, 1)
	assert.True(t, primary.loaded[0].BaselineMissing)
	assert.Zero(t, secondary.callCount())
}

func TestPipeline_RunOnce_EmptySnapshotNotRetried(t *testing.T) {
	ds := testDataset()
	for i := range ds.Readings {
		ds.Readings[i].Flow = nil
	}
	primary := &mockLoader{errs: []error{domain.ErrEmptySnapshot}}
	metrics := newTestMetrics()
	p := newTestPipeline(&mockExtractor{ds: ds}, primary, metrics)

	res, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptySnapshot)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 4, res.Rejected[domain.RejectMissingFlow])
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.ReadingsRejected.WithLabelValues("missing_flow")), 0)
}

func TestPipeline_RunOnce_PrimaryFailure(t *testing.T) {
	primary := &mockLoader{name: "csv", errs: []error{errors.New("disk full")}}
	secondary := &mockLoader{name: "kafka"}
	metrics := newTestMetrics()
	p := newTestPipeline(&mockExtractor{ds: testDataset()}, primary, metrics,
		pipeline.WithSecondary(secondary), pipeline.WithLoadRetries(0))

	_, err := p.RunOnce(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Zero(t, secondary.callCount(), "secondary sinks follow the primary")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("csv")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("load_error")), 0)
}

func TestPipeline_RunOnce_PrimaryRetried(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	primary := &mockLoader{errs: []error{errors.New("busy"), nil}}
	p := newTestPipeline(&mockExtractor{ds: testDataset()}, primary, newTestMetrics(), pipeline.WithClock(clock))

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(200 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("run did not finish after backoff")
	}
	assert.Equal(t, 2, primary.callCount())
}

func TestPipeline_RunOnce_PrimaryBackoffDoubles(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	primary := &mockLoader{errs: []error{errors.New("busy"), errors.New("busy"), nil}}
	p := newTestPipeline(&mockExtractor{ds: testDataset()}, primary, newTestMetrics(),
		pipeline.WithClock(clock), pipeline.WithLoadRetries(3))

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(200 * time.Millisecond)

	// second wait is 400ms: 200ms more is not enough
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 2, primary.callCount())
	clock.Advance(200 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("run did not finish after backoff")
	}
	assert.Equal(t, 3, primary.callCount())
}

func TestPipeline_RunOnce_SecondaryFailureDoesNotFailRun(t *testing.T) {
	primary := &mockLoader{}
	broken := &mockLoader{name: "postgres", errs: []error{errors.New("connection refused")}}
	healthy := &mockLoader{name: "redis"}
	metrics := newTestMetrics()
	p := newTestPipeline(&mockExtractor{ds: testDataset()}, primary, metrics, pipeline.WithSecondary(broken, healthy))

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, healthy.loaded, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("postgres")), 0)
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_BaselineDuplicates(t *testing.T) {
	ds := testDataset()
	ds.Baseline = append(ds.Baseline, domain.BaselineEntry{SiteID: "A", DayOfYear: ds.Baseline[0].DayOfYear, P90Flow: fptr(1)})
	metrics := newTestMetrics()
	p := newTestPipeline(&mockExtractor{ds: ds}, &mockLoader{}, metrics)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.BaselineDuplicates, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BaselineDuplicates), 0)
}

// --- Run ---

func TestPipeline_Run_Interval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	ext := &mockExtractor{ds: testDataset()}
	metrics := newTestMetrics()
	p := newTestPipeline(ext, &mockLoader{}, metrics, pipeline.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 15*time.Minute) }()

	require.Eventually(t, func() bool { return ext.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PipelineRunning), 0)

	clock.Advance(15 * time.Minute)
	require.Eventually(t, func() bool { return ext.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_KeepsGoingAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	ext := &mockExtractor{err: &domain.MissingSourceError{Sources: []string{"north.csv"}}}
	p := newTestPipeline(ext, &mockLoader{}, newTestMetrics(), pipeline.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, time.Minute) }()

	require.Eventually(t, func() bool { return ext.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return ext.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPipeline_Run_InvalidInterval(t *testing.T) {
	p := newTestPipeline(&mockExtractor{}, &mockLoader{}, newTestMetrics())
	require.Error(t, p.Run(context.Background(), 0))
}

// --- GuardedLoader ---

func TestGuardedLoader_OpensAfterFailures(t *testing.T) {
	inner := &mockLoader{errs: []error{errors.New("unreachable")}}
	g := pipeline.NewGuardedLoader("kafka", inner, 2, time.Minute, discardLogger())

	assert.Equal(t, "kafka", g.Name())
	require.ErrorContains(t, g.Load(context.Background(), domain.Result{}), "unreachable")
	require.ErrorContains(t, g.Load(context.Background(), domain.Result{}), "unreachable")

	err := g.Load(context.Background(), domain.Result{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.callCount(), "open circuit skips the sink")
	assert.Equal(t, "open", g.State())
}

func TestGuardedLoader_PassesThrough(t *testing.T) {
	inner := &mockLoader{}
	g := pipeline.NewGuardedLoader("redis", inner, 3, time.Minute, discardLogger())

	require.NoError(t, g.Load(context.Background(), domain.Result{RunID: "r1"}))
	require.Len(t, inner.loaded, 1)
	assert.Equal(t, "r1", inner.loaded[0].RunID)
	assert.Equal(t, "closed", g.State())
	require.NoError(t, g.Close())
}

func TestPipeline_LastRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	ext := &mockExtractor{ds: testDataset()}
	p := newTestPipeline(ext, &mockLoader{}, newTestMetrics(), pipeline.WithClock(clock))

	_, ok := p.LastRun()
	assert.False(t, ok)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	st, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, res.RunID, st.RunID)
	assert.Equal(t, testStart, st.StartedAt)
	assert.Equal(t, "success", st.Outcome)
	assert.Equal(t, 2, st.Sites)
	assert.Equal(t, []string{"A"}, st.HighFlowSites)
	assert.Empty(t, st.Error)

	ext.err = &domain.MissingSourceError{Sources: []string{"north.csv"}}
	_, err = p.RunOnce(context.Background())
	require.Error(t, err)

	st, ok = p.LastRun()
	require.True(t, ok)
	assert.Equal(t, "missing_source", st.Outcome)
	assert.Contains(t, st.Error, "north.csv")
	assert.Empty(t, st.HighFlowSites)
}
