package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/geoeffect"
	"github.com/couchcryptid/space-weather-forecast/internal/observability"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
	"github.com/couchcryptid/space-weather-forecast/internal/pipeline"
	"github.com/couchcryptid/space-weather-forecast/internal/predictor"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	onset     = time.Date(2024, 5, 10, 6, 36, 0, 0, time.UTC)
	createdAt = time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC)
)

// --- stubs ---

type stubPredictor struct {
	name  string
	out   predictor.Output
	err   error
	delay time.Duration
}

func (s stubPredictor) Name() string { return s.name }

func (s stubPredictor) Predict(_ context.Context, _ predictor.Features) (predictor.Output, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.out, s.err
}

type physicsFunc func(domain.EventRecord) (physics.Prediction, error)

func (f physicsFunc) Predict(e domain.EventRecord) (physics.Prediction, error) { return f(e) }

func failingPhysics(domain.EventRecord) (physics.Prediction, error) {
	return physics.Prediction{}, &physics.ComputationError{Model: "drag", Reason: "non-finite transit"}
}

func declining(name string) stubPredictor {
	return stubPredictor{name: name, err: predictor.ErrDeclined}
}

func estimate(name string, transit, confidence float64) stubPredictor {
	return stubPredictor{name: name, out: predictor.Output{TransitHours: transit, Confidence: confidence}}
}

// --- fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	engine  *pipeline.Engine
	trust   *ensemble.Registry
	metrics *observability.Metrics
}

func newHarness(t *testing.T, phys physics.Predictor, timeout time.Duration, preds ...predictor.Predictor) harness {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(createdAt))
	t.Cleanup(func() { domain.SetClock(nil) })

	if phys == nil {
		phys = physics.NewModel(physics.DefaultParams())
	}
	gp := geoeffect.DefaultParams()
	trust := ensemble.NewRegistry(0.5)
	metrics := observability.NewMetricsForTesting()
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Physics:       phys,
		Classifier:    geoeffect.New(gp),
		Predictors:    predictor.NewRegistry(preds...),
		Combiner:      ensemble.NewCombiner(ensemble.DefaultParams(), gp.Scale),
		Trust:         trust,
		Impacts:       ensemble.DefaultImpactParams(),
		BranchTimeout: timeout,
	}, discardLogger(), metrics)
	return harness{engine: engine, trust: trust, metrics: metrics}
}

func scenarioA() domain.EventRecord {
	return domain.EventRecord{
		ID: "cme-a", Kind: domain.KindCME, Onset: onset, Speed: 1163, HalfWidth: 33,
		Latitude: domain.Float(3), Longitude: domain.Float(-59),
		SolarWind: &domain.SolarWind{Speed: domain.Float(450), Density: domain.Float(8), Bz: domain.Float(-15)},
	}
}

func scenarioB() domain.EventRecord {
	return domain.EventRecord{ID: "cme-b", Kind: domain.KindCME, Onset: onset, Speed: 264, HalfWidth: 20}
}

func unavailable(f domain.Forecast, source string) (domain.SourceStatus, bool) {
	for _, s := range f.Unavailable {
		if s.Source == source {
			return s, true
		}
	}
	return domain.SourceStatus{}, false
}

// --- tests ---

func TestEngine_ScenarioA_FastEarthDirectedCME(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, 1, f.Version)
	assert.Empty(t, f.Supersedes)
	assert.Equal(t, "cme-a", f.EventID)
	assert.Equal(t, domain.KindCME, f.EventKind)
	assert.Equal(t, createdAt, f.CreatedAt)

	assert.GreaterOrEqual(t, int(f.Severity), int(domain.SeverityHigh))
	assert.Greater(t, f.ImpactProbability, 0.5)
	assert.InDelta(t, 45.9, f.TransitHours, 0.1)
	assert.LessOrEqual(t, f.TransitLowerHours, f.TransitHours)
	assert.GreaterOrEqual(t, f.TransitUpperHours, f.TransitHours)
	assert.Equal(t, onset.Add(time.Duration(f.TransitHours*float64(time.Hour))), f.ArrivalExpected)
	assert.False(t, f.ArrivalEarliest.After(f.ArrivalExpected))
	assert.False(t, f.ArrivalLatest.Before(f.ArrivalExpected))

	require.NotNil(t, f.Physics)
	require.NotNil(t, f.Physics.MinDst)
	assert.Equal(t, domain.StormExtreme, f.Physics.StormClass)
	assert.False(t, f.Physics.LowConfidence)
	assert.Contains(t, f.Impacts, domain.ImpactAuroraHighLatitude)
	assert.Contains(t, f.Impacts, domain.ImpactPowerGridStress)

	require.Len(t, f.Contributions, 1)
	c := f.Contributions[0]
	assert.Equal(t, domain.SourcePhysics, c.Source)
	assert.True(t, c.HasSeverity)
	assert.Equal(t, f.Severity, c.Severity)
	assert.InDelta(t, 1.0, c.Weight, 1e-12)

	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.ForecastsCreated.WithLabelValues(f.Severity.String())), 1e-12)
}

func TestEngine_ScenarioB_SlowUnknownSourceCME(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	f, err := h.engine.Forecast(context.Background(), scenarioB())
	require.NoError(t, err)

	assert.LessOrEqual(t, int(f.Severity), int(domain.SeverityLow))
	assert.Less(t, f.ImpactProbability, 0.2)
	require.NotNil(t, f.Physics)
	assert.True(t, f.Physics.LowConfidence)
	assert.Greater(t, f.TransitHours, 100.0)
	assert.NotContains(t, f.Impacts, domain.ImpactPowerGridStress)
}

func TestEngine_ScenarioC_PhysicsOnly(t *testing.T) {
	event := scenarioA()

	full := newHarness(t, nil, time.Second,
		estimate("gradient-boosting", 45.9, 1),
		estimate("linear-empirical", 45.9, 1),
		estimate("random-forest", 45.9, 1),
	)
	withAll, err := full.engine.Forecast(context.Background(), event)
	require.NoError(t, err)

	h := newHarness(t, nil, time.Second,
		declining("gradient-boosting"),
		declining("linear-empirical"),
		stubPredictor{name: "random-forest", err: errors.New("model file corrupt")},
	)
	f, err := h.engine.Forecast(context.Background(), event)
	require.NoError(t, err, "physics alone still publishes")

	require.Len(t, f.Contributions, 1)
	assert.Equal(t, domain.SourcePhysics, f.Contributions[0].Source)
	assert.Len(t, f.Unavailable, 3)
	assert.InDelta(t, 0.25, f.Coverage, 1e-12)
	assert.Less(t, f.Confidence, withAll.Confidence)
	assert.LessOrEqual(t, f.Confidence, 0.25)

	s, ok := unavailable(f, "gradient-boosting")
	require.True(t, ok)
	assert.Contains(t, s.Reason, "declined")
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.SourceUnavailable.WithLabelValues("gradient-boosting", "declined")), 1e-12)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.SourceUnavailable.WithLabelValues("random-forest", "failed")), 1e-12)
}

func TestEngine_ScenarioD_NothingAvailable(t *testing.T) {
	h := newHarness(t, physicsFunc(failingPhysics), time.Second,
		declining("gradient-boosting"),
		declining("random-forest"),
	)

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.Error(t, err)
	assert.ErrorIs(t, err, ensemble.ErrNoPredictorsAvailable)
	assert.Empty(t, f.ID, "no forecast is created")
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.ForecastFailures.WithLabelValues("no_predictors")), 1e-12)
}

func TestEngine_PhysicsFailureFallsBackToLearned(t *testing.T) {
	h := newHarness(t, physicsFunc(failingPhysics), time.Second,
		stubPredictor{name: "random-forest", out: predictor.Output{TransitHours: 50, Confidence: 0.8, SeverityScore: 0.6, HasSeverity: true}},
	)

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)

	assert.Nil(t, f.Physics)
	assert.InDelta(t, 50.0, f.TransitHours, 1e-9)
	assert.Equal(t, domain.SeverityHigh, f.Severity)
	s, ok := unavailable(f, domain.SourcePhysics)
	require.True(t, ok)
	assert.Contains(t, s.Reason, "non-finite transit")
}

func TestEngine_BranchTimeout(t *testing.T) {
	h := newHarness(t, nil, 50*time.Millisecond,
		stubPredictor{name: "slow", delay: 500 * time.Millisecond, out: predictor.Output{TransitHours: 10, Confidence: 1}},
		estimate("fast", 46, 1),
	)

	start := time.Now()
	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "the slow branch does not hold the forecast")

	s, ok := unavailable(f, "slow")
	require.True(t, ok)
	assert.Contains(t, s.Reason, "timed out")
	assert.Len(t, f.Contributions, 2)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.SourceUnavailable.WithLabelValues("slow", "timeout")), 1e-12)
}

func TestEngine_PhysicsTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	slow := physicsFunc(func(domain.EventRecord) (physics.Prediction, error) {
		<-release
		return physics.Prediction{}, nil
	})
	h := newHarness(t, slow, 50*time.Millisecond, estimate("random-forest", 40, 0.9))

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)
	assert.Nil(t, f.Physics)
	_, ok := unavailable(f, domain.SourcePhysics)
	assert.True(t, ok)
}

func TestEngine_CancellationDiscardsForecast(t *testing.T) {
	h := newHarness(t, nil, 5*time.Second,
		stubPredictor{name: "slow", delay: time.Second, out: predictor.Output{TransitHours: 10, Confidence: 1}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	f, err := h.engine.Forecast(ctx, scenarioA())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ID)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.ForecastFailures.WithLabelValues("cancelled")), 1e-12)
	assert.InDelta(t, 0.0, testutil.ToFloat64(h.metrics.ForecastsCreated.WithLabelValues("HIGH")), 1e-12)
}

func TestEngine_InvalidEvent(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	event := scenarioA()
	event.Speed = 0

	_, err := h.engine.Forecast(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestEngine_DegradedSourceExcluded(t *testing.T) {
	h := newHarness(t, nil, time.Second, estimate("random-forest", 10, 1))
	h.trust.Update(func(w map[string]ensemble.TrustWeight) {
		w["random-forest"] = ensemble.TrustWeight{Weight: 0.9, Degraded: true}
	})

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)

	_, used := f.Contribution("random-forest")
	assert.False(t, used)
	s, ok := unavailable(f, "random-forest")
	require.True(t, ok)
	assert.Equal(t, ensemble.ReasonDegraded, s.Reason)
	assert.Equal(t, h.trust.Snapshot().Version, f.TrustVersion)
}

func TestEngine_TrustWeighting(t *testing.T) {
	h := newHarness(t, nil, time.Second, estimate("random-forest", 30, 1))
	h.trust.Update(func(w map[string]ensemble.TrustWeight) {
		w[domain.SourcePhysics] = ensemble.TrustWeight{Weight: 0.2}
		w["random-forest"] = ensemble.TrustWeight{Weight: 0.8}
	})

	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)

	rf, ok := f.Contribution("random-forest")
	require.True(t, ok)
	phys, ok := f.Contribution(domain.SourcePhysics)
	require.True(t, ok)
	assert.Greater(t, rf.Weight, phys.Weight)
	assert.InDelta(t, 1.0, rf.Weight+phys.Weight, 1e-12)
	assert.Less(t, f.TransitHours, (30+phys.TransitHours)/2, "mean leans toward the trusted source")
}

func TestEngine_Revise(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	event := scenarioA()

	v1, err := h.engine.Forecast(context.Background(), event)
	require.NoError(t, err)

	event.Speed = 1500
	v2, err := h.engine.Revise(context.Background(), event, v1)
	require.NoError(t, err)

	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.Supersedes)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Less(t, v2.TransitHours, v1.TransitHours)

	other := scenarioB()
	_, err = h.engine.Revise(context.Background(), other, v1)
	assert.ErrorIs(t, err, pipeline.ErrRevisionMismatch)
}

func TestEngine_NonEjectionEvents(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	flare, err := h.engine.Forecast(context.Background(), domain.EventRecord{
		ID: "flare-1", Kind: domain.KindFlare, Onset: onset, FlareClass: "X5.8",
		Latitude: domain.Float(-18), Longitude: domain.Float(-20),
	})
	require.NoError(t, err)
	assert.InDelta(t, 8.0/60, flare.TransitHours, 0.01, "light travel time")
	assert.Contains(t, flare.Impacts, domain.ImpactRadioDisruption)
	require.NotNil(t, flare.Physics)
	assert.Nil(t, flare.Physics.MinDst)

	sep, err := h.engine.Forecast(context.Background(), domain.EventRecord{
		ID: "sep-1", Kind: domain.KindSEP, Onset: onset,
	})
	require.NoError(t, err)
	assert.Contains(t, sep.Impacts, domain.ImpactRadiationStorm)

	storm, err := h.engine.Forecast(context.Background(), domain.EventRecord{
		ID: "gst-1", Kind: domain.KindGeoStorm, Onset: onset,
		SolarWind: &domain.SolarWind{Speed: domain.Float(750), Density: domain.Float(20), Bz: domain.Float(-40)},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, storm.TransitHours, 1e-9)
	assert.Equal(t, onset, storm.ArrivalExpected)
}

func TestEngine_LoadedArtifacts(t *testing.T) {
	reg := predictor.LoadDir("../predictor/testdata/artifacts", discardLogger())
	require.NotEmpty(t, reg.Predictors())

	h := newHarness(t, nil, time.Second, reg.Predictors()...)
	f, err := h.engine.Forecast(context.Background(), scenarioA())
	require.NoError(t, err)

	assert.Len(t, f.Contributions, 1+len(reg.Predictors())-len(f.Unavailable))
	assert.Greater(t, f.Coverage, 0.0)
	assert.LessOrEqual(t, f.Coverage, 1.0)
	var total float64
	for _, c := range f.Contributions {
		total += c.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestEngine_LoadedArtifactsServeCMEOnly(t *testing.T) {
	reg := predictor.LoadDir("../predictor/testdata/artifacts", discardLogger())
	require.NotEmpty(t, reg.Predictors())
	h := newHarness(t, nil, time.Second, reg.Predictors()...)

	tests := []struct {
		name    string
		event   domain.EventRecord
		transit float64
	}{
		{"flare", domain.EventRecord{
			ID: "flr-1", Kind: domain.KindFlare, Onset: onset, FlareClass: "X9.3",
			Latitude: domain.Float(-9), Longitude: domain.Float(34),
		}, 8.0 / 60},
		{"sep", domain.EventRecord{ID: "sep-1", Kind: domain.KindSEP, Onset: onset}, 1},
		{"storm", domain.EventRecord{
			ID: "gst-1", Kind: domain.KindGeoStorm, Onset: onset,
			SolarWind: &domain.SolarWind{Speed: domain.Float(750), Density: domain.Float(25), Bz: domain.Float(-43)},
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := h.engine.Forecast(context.Background(), tt.event)
			require.NoError(t, err)
			require.Len(t, f.Contributions, 1)
			assert.Equal(t, domain.SourcePhysics, f.Contributions[0].Source)
			assert.Empty(t, f.Unavailable)
			assert.InDelta(t, 1.0, f.Coverage, 1e-9)
			assert.InDelta(t, tt.transit, f.TransitHours, 0.01)
		})
	}
}
