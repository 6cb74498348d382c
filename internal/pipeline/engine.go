package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/geoeffect"
	"github.com/couchcryptid/space-weather-forecast/internal/observability"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
	"github.com/couchcryptid/space-weather-forecast/internal/predictor"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRevisionMismatch is returned when a revision names a different event
// than the forecast it supersedes.
var ErrRevisionMismatch = errors.New("revision event does not match prior forecast")

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Physics    physics.Predictor
	Classifier *geoeffect.Classifier
	Predictors *predictor.Registry
	Combiner   *ensemble.Combiner
	Trust      *ensemble.Registry
	Impacts    ensemble.ImpactParams
	// BranchTimeout bounds each source evaluation. A branch that exceeds it
	// is unavailable for that forecast.
	BranchTimeout time.Duration
}

// Engine turns one event record into one ensemble forecast. It holds no
// per-event state, so events may be forecast concurrently.
type Engine struct {
	cfg     EngineConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 2 * time.Second
	}
	return &Engine{cfg: cfg, logger: logger, metrics: metrics}
}

// Forecast evaluates every source for event and combines the results into
// version 1 of its forecast.
func (e *Engine) Forecast(ctx context.Context, event domain.EventRecord) (domain.Forecast, error) {
	return e.run(ctx, event, nil)
}

// Revise forecasts an updated record of an already forecast event. The
// result is version prior.Version+1 and supersedes prior.
func (e *Engine) Revise(ctx context.Context, event domain.EventRecord, prior domain.Forecast) (domain.Forecast, error) {
	if event.ID != prior.EventID {
		return domain.Forecast{}, fmt.Errorf("revise forecast %s: %w", prior.ID, ErrRevisionMismatch)
	}
	return e.run(ctx, event, &prior)
}

type physicsOutcome struct {
	pred physics.Prediction
	err  error
}

func (e *Engine) run(ctx context.Context, event domain.EventRecord, prior *domain.Forecast) (domain.Forecast, error) {
	if err := event.Validate(); err != nil {
		e.metrics.ForecastFailures.WithLabelValues("invalid_event").Inc()
		return domain.Forecast{}, fmt.Errorf("forecast event %s: %w", event.ID, err)
	}

	lc := domain.NewLifecycle()
	trust := e.cfg.Trust.Snapshot()
	features := predictor.Extract(event)
	predictors := e.cfg.Predictors.For(event.Kind)

	var phys physicsOutcome
	learned := make([]domain.SourceResult, len(predictors))

	// Branches never return errors; failures are recorded as values so one
	// source cannot cancel the others.
	var g errgroup.Group
	g.Go(func() error {
		phys = e.runPhysics(ctx, event)
		return nil
	})
	for i, p := range predictors {
		g.Go(func() error {
			learned[i] = e.runPredictor(ctx, p, features)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		e.metrics.ForecastFailures.WithLabelValues("cancelled").Inc()
		e.logger.Info("forecast discarded", "event_id", event.ID, "reason", err)
		return domain.Forecast{}, fmt.Errorf("forecast event %s: %w", event.ID, err)
	}

	var physResult domain.SourceResult
	var physPred *physics.Prediction
	if phys.err != nil {
		_ = lc.Transition(domain.StatePhysicsFailed)
		physResult = domain.Unavailable(domain.SourcePhysics, phys.err.Error())
	} else {
		_ = lc.Transition(domain.StatePhysicsResolved)
		physPred = &phys.pred
		physResult = domain.Ok(domain.SourcePhysics, domain.Estimate{
			TransitHours: phys.pred.TransitHours,
			Confidence:   phys.pred.Confidence,
		}).Check()
	}
	for _, r := range learned {
		if r.Status == domain.StatusOK {
			lc.MarkLearnedResolved()
			break
		}
	}

	assessment := e.cfg.Classifier.Assess(event, physPred)
	results := append([]domain.SourceResult{physResult}, learned...)
	comb, err := e.cfg.Combiner.Combine(ensemble.Input{
		Results:  results,
		Expected: 1 + e.cfg.Predictors.ExpectedFor(event.Kind),
		Classifier: &ensemble.SeverityVote{
			Score:             assessment.Score,
			Severity:          assessment.Severity,
			ImpactProbability: assessment.ImpactProbability,
			Confidence:        assessment.Confidence,
		},
		Trust: trust,
	})
	e.recordUnavailable(event, comb.Unavailable)
	if err != nil {
		e.metrics.ForecastFailures.WithLabelValues(failureReason(err)).Inc()
		e.logger.Error("no forecast produced", "event_id", event.ID, "error", err)
		return domain.Forecast{}, fmt.Errorf("forecast event %s: %w", event.ID, err)
	}
	if err := lc.Transition(domain.StateEnsembleResolved); err != nil {
		e.metrics.ForecastFailures.WithLabelValues("internal").Inc()
		return domain.Forecast{}, fmt.Errorf("forecast event %s: %w", event.ID, err)
	}

	f := domain.Forecast{
		ID:                uuid.NewString(),
		Version:           1,
		EventID:           event.ID,
		EventKind:         event.Kind,
		Event:             event,
		TransitHours:      comb.TransitHours,
		TransitLowerHours: comb.TransitLowerHours,
		TransitUpperHours: comb.TransitUpperHours,
		ArrivalEarliest:   event.Onset.Add(hoursToDuration(comb.TransitLowerHours)),
		ArrivalExpected:   event.Onset.Add(hoursToDuration(comb.TransitHours)),
		ArrivalLatest:     event.Onset.Add(hoursToDuration(comb.TransitUpperHours)),
		Severity:          comb.Severity,
		ImpactProbability: comb.ImpactProbability,
		Confidence:        comb.Confidence,
		AgreementFactor:   comb.Agreement,
		Coverage:          comb.Coverage,
		Contributions:     comb.Contributions,
		Unavailable:       comb.Unavailable,
		TrustVersion:      comb.TrustVersion,
		CreatedAt:         domain.Now(),
	}
	if physPred != nil {
		f.Physics = physPred.Summary()
	}
	f.Impacts = ensemble.Impacts(event, f.Severity, f.Physics, e.cfg.Impacts)
	if prior != nil {
		f.Version = prior.Version + 1
		f.Supersedes = prior.ID
	}

	e.metrics.ForecastsCreated.WithLabelValues(f.Severity.String()).Inc()
	e.metrics.ForecastConfidence.Observe(f.Confidence)
	e.logger.Info("forecast created",
		"forecast_id", f.ID,
		"event_id", f.EventID,
		"version", f.Version,
		"transit_hours", f.TransitHours,
		"severity", f.Severity.String(),
		"confidence", f.Confidence,
		"contributors", len(f.Contributions),
	)
	return f, nil
}

func (e *Engine) runPhysics(ctx context.Context, event domain.EventRecord) physicsOutcome {
	start := time.Now()
	out, err := withTimeout(ctx, e.cfg.BranchTimeout, func(context.Context) physicsOutcome {
		pred, err := e.cfg.Physics.Predict(event)
		return physicsOutcome{pred: pred, err: err}
	})
	e.metrics.BranchDuration.WithLabelValues(domain.SourcePhysics).Observe(time.Since(start).Seconds())
	if err != nil {
		return physicsOutcome{err: err}
	}
	return out
}

func (e *Engine) runPredictor(ctx context.Context, p predictor.Predictor, f predictor.Features) domain.SourceResult {
	start := time.Now()
	res, err := withTimeout(ctx, e.cfg.BranchTimeout, func(bctx context.Context) domain.SourceResult {
		return predictor.Invoke(bctx, p, f)
	})
	e.metrics.BranchDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Unavailable(p.Name(), err.Error())
	}
	return res
}

func (e *Engine) recordUnavailable(event domain.EventRecord, statuses []domain.SourceStatus) {
	for _, s := range statuses {
		e.metrics.SourceUnavailable.WithLabelValues(s.Source, unavailableReason(s.Reason)).Inc()
		e.logger.Warn("source unavailable",
			"source", s.Source,
			"event_id", event.ID,
			"reason", s.Reason,
		)
	}
}

// errBranchTimeout marks a branch that did not finish within its budget.
var errBranchTimeout = errors.New("timed out")

// withTimeout runs fn with a deadline. fn keeps running in the background
// after a timeout; its result is dropped.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) T) (T, error) {
	bctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- fn(bctx) }()

	select {
	case v := <-done:
		return v, nil
	case <-bctx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", errBranchTimeout, d)
	}
}

func failureReason(err error) string {
	if errors.Is(err, ensemble.ErrNoPredictorsAvailable) {
		return "no_predictors"
	}
	return "internal"
}

// unavailableReason maps a free-form reason onto a bounded label set.
func unavailableReason(reason string) string {
	switch {
	case reason == ensemble.ReasonDegraded:
		return "degraded"
	case reason == ensemble.ReasonZeroWeight:
		return "zero_weight"
	case strings.Contains(reason, errBranchTimeout.Error()):
		return "timeout"
	case strings.Contains(reason, predictor.ErrDeclined.Error()):
		return "declined"
	default:
		return "failed"
	}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
