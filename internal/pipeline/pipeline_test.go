package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/observability"
	"github.com/couchcryptid/space-weather-forecast/internal/pipeline"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	err error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Forecast, error) {
	if m.err != nil {
		return domain.Forecast{}, m.err
	}
	return domain.Forecast{ID: "f-" + string(raw.Key), Version: 1, EventID: string(raw.Key)}, nil
}

type mockLoader struct {
	loaded []domain.Forecast
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, forecasts []domain.Forecast) error {
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, forecasts...)
	return nil
}

type mockPublisher struct {
	published []string
}

func (m *mockPublisher) Publish(f domain.Forecast) error {
	m.published = append(m.published, f.ID)
	return nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func rawEvent(key string, commits *atomic.Int64) domain.RawEvent {
	return domain.RawEvent{
		Key:   []byte(key),
		Value: []byte(`{}`),
		Topic: "solar-events",
		Commit: func(context.Context) error {
			commits.Add(1)
			return nil
		},
	}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	var commits atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("e1", &commits), rawEvent("e2", &commits)}}}
	ldr := &mockLoader{}
	pub := &mockPublisher{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 10, pipeline.WithPublisher(pub))
	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.loaded, 2)
	assert.Equal(t, []string{"f-e1", "f-e2"}, pub.published)
	assert.Equal(t, int64(2), commits.Load())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MessagesConsumed), 1e-12)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced), 1e-12)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 1e-12)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorCommitsAndSkips(t *testing.T) {
	var commits atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("e1", &commits)}}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{err: errors.New("no predictors available")}, ldr, discardLogger(), metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.Equal(t, int64(1), commits.Load(), "a message that cannot be forecast is not redelivered")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.TransformErrors), 1e-12)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_LoadErrorDoesNotCommit(t *testing.T) {
	var commits atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("e1", &commits)}}}
	ldr := &mockLoader{err: errors.New("broker unavailable")}
	pub := &mockPublisher{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10, pipeline.WithPublisher(pub))
	runFor(t, p, 300*time.Millisecond)

	assert.Zero(t, commits.Load())
	assert.Empty(t, pub.published, "undelivered forecasts are not tracked")
}

func TestPipeline_PublishesToTracker(t *testing.T) {
	var commits atomic.Int64
	h := newHarness(t, nil, time.Second)
	tr := tracker.New(h.trust, tracker.DefaultParams(), discardLogger())

	payload := []byte(`{"id":"cme-2024-05-10","kind":"CME","onset":"2024-05-10T06:36:00Z","speed":1163,"half_angle":33,"source_location":"N03E59"}`)
	first := domain.RawEvent{Key: []byte("k"), Value: payload, Commit: func(context.Context) error { commits.Add(1); return nil }}
	revised := first
	revised.Value = []byte(`{"id":"cme-2024-05-10","kind":"CME","onset":"2024-05-10T06:36:00Z","speed":1400,"half_angle":33,"source_location":"N03E59"}`)

	ext := &mockExtractor{batches: [][]domain.RawEvent{{first}, {revised}}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(h.engine, tr, discardLogger()), ldr, discardLogger(), h.metrics, 10, pipeline.WithPublisher(tr))
	runFor(t, p, 500*time.Millisecond)

	require.Len(t, ldr.loaded, 2)
	v1, v2 := ldr.loaded[0], ldr.loaded[1]

	type lineage struct {
		Version    int
		Supersedes string
		EventID    string
	}
	got := []lineage{{v1.Version, v1.Supersedes, v1.EventID}, {v2.Version, v2.Supersedes, v2.EventID}}
	want := []lineage{{1, "", "cme-2024-05-10"}, {2, v1.ID, "cme-2024-05-10"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("forecast lineage mismatch (-want +got):\n%s", diff)
	}

	_, tracked := tr.State(v1.ID)
	assert.False(t, tracked, "superseded version is archived")
	state, ok := tr.State(v2.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatePublished, state)
	assert.Equal(t, int64(2), commits.Load())
}
