// Package tracker pairs published forecasts with observed outcomes, scores
// every contributing source and recalibrates the trust registry.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
)

// ErrUnknownForecast is returned for outcomes that reference a forecast the
// tracker never saw or has already archived.
var ErrUnknownForecast = errors.New("unknown forecast")

// Params configures trust updates and drift detection.
type Params struct {
	// Alpha is the EMA smoothing factor for trust updates.
	Alpha float64 `mapstructure:"alpha"`
	// ErrorScaleHours is the arrival error at which an outcome scores 0.5.
	ErrorScaleHours     float64 `mapstructure:"error_scale_hours"`
	DriftWindow         int     `mapstructure:"drift_window"`
	DriftThresholdHours float64 `mapstructure:"drift_threshold_hours"`
	DriftConsecutive    int     `mapstructure:"drift_consecutive"`
	// RecordRetention bounds the in-memory performance history.
	RecordRetention int `mapstructure:"record_retention"`
	// ForecastRetention bounds both the published forecasts awaiting an
	// outcome and the validated forecasts remembered to reject duplicate
	// outcomes. The oldest beyond it are archived.
	ForecastRetention int `mapstructure:"forecast_retention"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		Alpha:               0.2,
		ErrorScaleHours:     12,
		DriftWindow:         5,
		DriftThresholdHours: 24,
		DriftConsecutive:    3,
		RecordRetention:     10000,
		ForecastRetention:   10000,
	}
}

// Validate rejects parameters outside their meaningful ranges.
func (p Params) Validate() error {
	switch {
	case p.Alpha <= 0 || p.Alpha > 1:
		return fmt.Errorf("tracker alpha must be within (0, 1]")
	case p.ErrorScaleHours <= 0:
		return fmt.Errorf("tracker error_scale_hours must be positive")
	case p.DriftWindow < 1 || p.DriftConsecutive < 1:
		return fmt.Errorf("tracker drift_window and drift_consecutive must be >= 1")
	case p.DriftThresholdHours <= 0:
		return fmt.Errorf("tracker drift_threshold_hours must be positive")
	case p.RecordRetention < 1:
		return fmt.Errorf("tracker record_retention must be >= 1")
	case p.ForecastRetention < 1:
		return fmt.Errorf("tracker forecast_retention must be >= 1")
	}
	return nil
}

// Observer receives tracker events, typically for metrics.
type Observer interface {
	OutcomeRecorded(source string, absErrorHours float64)
	DriftDetected(source string)
	TrustUpdated(snapshot *ensemble.Snapshot)
}

// SnapshotSink persists trust snapshots after each update.
type SnapshotSink interface {
	SaveTrust(ctx context.Context, snapshot *ensemble.Snapshot) error
}

// Result is what one outcome produced.
type Result struct {
	Records []domain.PerformanceRecord
	Alerts  []DriftAlert
	Trust   *ensemble.Snapshot
}

type tracked struct {
	forecast  domain.Forecast
	lifecycle *domain.Lifecycle
}

// Tracker is safe for concurrent use.
type Tracker struct {
	params   Params
	registry *ensemble.Registry
	logger   *slog.Logger
	observer Observer
	sink     SnapshotSink

	mu        sync.Mutex
	forecasts map[string]*tracked // published, awaiting an outcome
	latest    map[string]string   // event id → latest published forecast id
	// published is the publication order of forecasts. Ids that have since
	// been validated or superseded are skipped on eviction.
	published    []string
	validated    map[string]*tracked
	validatedIDs []string // oldest first
	drift        map[string]*driftState
	records      []domain.PerformanceRecord
	stats        map[string]*SourceStats
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithSnapshotSink persists the trust snapshot after every update.
func WithSnapshotSink(s SnapshotSink) Option {
	return func(t *Tracker) { t.sink = s }
}

// New creates a Tracker that updates registry.
func New(registry *ensemble.Registry, params Params, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		params:    params,
		registry:  registry,
		logger:    logger,
		forecasts: make(map[string]*tracked),
		latest:    make(map[string]string),
		validated: make(map[string]*tracked),
		drift:     make(map[string]*driftState),
		stats:     make(map[string]*SourceStats),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Publish registers a forecast as PUBLISHED. A previously published
// version for the same event is archived and stops accepting outcomes.
func (t *Tracker) Publish(f domain.Forecast) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.known(f.ID) {
		return fmt.Errorf("publish forecast %s: %w", f.ID, domain.ErrIllegalTransition)
	}
	lc := domain.RestoreLifecycle(domain.StateEnsembleResolved)
	if err := lc.Transition(domain.StatePublished); err != nil {
		return fmt.Errorf("publish forecast %s: %w", f.ID, err)
	}

	if prevID, ok := t.latest[f.EventID]; ok {
		if prev, ok := t.forecasts[prevID]; ok {
			if err := prev.lifecycle.Transition(domain.StateArchived); err != nil {
				t.logger.Warn("archive superseded forecast", "forecast_id", prevID, "error", err)
			}
			delete(t.forecasts, prevID)
			t.logger.Info("forecast archived", "forecast_id", prevID, "superseded_by", f.ID)
		}
	}
	t.forecasts[f.ID] = &tracked{forecast: f, lifecycle: lc}
	t.latest[f.EventID] = f.ID
	t.published = append(t.published, f.ID)
	t.evictPublished()
	return nil
}

// State returns the lifecycle state of a tracked forecast. Validated
// forecasts remain visible until they fall out of the retained history.
func (t *Tracker) State(forecastID string) (domain.ForecastState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.lookup(forecastID)
	if !ok {
		return "", false
	}
	return tr.lifecycle.State(), true
}

// Latest returns the most recent forecast for an event that is still
// awaiting its outcome, so a revised record can supersede it.
func (t *Tracker) Latest(eventID string) (domain.Forecast, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.latest[eventID]
	if !ok {
		return domain.Forecast{}, false
	}
	tr, ok := t.forecasts[id]
	if !ok {
		return domain.Forecast{}, false
	}
	return tr.forecast, true
}

// RecordOutcome validates a published forecast against ground truth. It
// writes one performance record per contributing source plus one for the
// ensemble, updates trust weights and reports any new drift alerts.
func (t *Tracker) RecordOutcome(ctx context.Context, o domain.Outcome) (Result, error) {
	if o.ActualArrival.IsZero() {
		return Result{}, fmt.Errorf("record outcome %s: actual arrival is required", o.ForecastID)
	}

	t.mu.Lock()
	tr, ok := t.lookup(o.ForecastID)
	if !ok {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("record outcome %s: %w", o.ForecastID, ErrUnknownForecast)
	}
	if err := tr.lifecycle.Transition(domain.StateValidated); err != nil {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("record outcome %s: %w", o.ForecastID, err)
	}
	t.retainValidated(tr)

	now := domain.Now()
	f := tr.forecast
	var res Result
	res.Records = append(res.Records, t.record(f, domain.SourceEnsemble, f.TransitHours, f.Severity, true, o, now))
	for _, c := range f.Contributions {
		res.Records = append(res.Records, t.record(f, c.Source, c.TransitHours, c.Severity, c.HasSeverity, o, now))
	}
	t.appendRecords(res.Records)

	sourceRecords := res.Records[1:]
	res.Alerts = t.detectDrift(sourceRecords, now)
	res.Trust = t.registry.Update(func(weights map[string]ensemble.TrustWeight) {
		snap := t.registry.Snapshot()
		for _, r := range sourceRecords {
			w, ok := weights[r.Source]
			if !ok {
				w = ensemble.TrustWeight{Weight: snap.DefaultWeight}
			}
			w.Weight = (1-t.params.Alpha)*w.Weight + t.params.Alpha*t.score(r.AbsoluteErrorHours)
			w.Outcomes++
			w.UpdatedAt = now
			weights[r.Source] = w
		}
		for _, a := range res.Alerts {
			w := weights[a.Source]
			w.Degraded = true
			weights[a.Source] = w
		}
	})
	t.mu.Unlock()

	for _, a := range res.Alerts {
		t.logger.Warn("source degraded",
			"source", a.Source,
			"rolling_error_hours", a.RollingErrorHours,
			"consecutive", a.Consecutive,
		)
	}
	if t.observer != nil {
		for _, r := range sourceRecords {
			t.observer.OutcomeRecorded(r.Source, r.AbsoluteErrorHours)
		}
		for _, a := range res.Alerts {
			t.observer.DriftDetected(a.Source)
		}
		t.observer.TrustUpdated(res.Trust)
	}
	t.persist(ctx, res.Trust)

	t.logger.Info("forecast validated",
		"forecast_id", f.ID,
		"event_id", f.EventID,
		"error_hours", res.Records[0].SignedErrorHours,
		"trust_version", res.Trust.Version,
	)
	return res, nil
}

// Reset clears a source's degraded flag and drift history.
func (t *Tracker) Reset(ctx context.Context, source string) (*ensemble.Snapshot, error) {
	t.mu.Lock()
	snap, err := t.registry.Reset(source)
	if err == nil {
		delete(t.drift, source)
	}
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t.logger.Info("source trust reset", "source", source, "trust_version", snap.Version)
	if t.observer != nil {
		t.observer.TrustUpdated(snap)
	}
	t.persist(ctx, snap)
	return snap, nil
}

// Trust returns the current trust snapshot.
func (t *Tracker) Trust() *ensemble.Snapshot {
	return t.registry.Snapshot()
}

// Records returns the retained performance history, oldest first.
func (t *Tracker) Records() []domain.PerformanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PerformanceRecord, len(t.records))
	copy(out, t.records)
	return out
}

func (t *Tracker) record(f domain.Forecast, source string, transit float64, sev domain.Severity, hasSev bool, o domain.Outcome, now time.Time) domain.PerformanceRecord {
	predicted := f.Event.Onset.Add(hoursToDuration(transit))
	signed := predicted.Sub(o.ActualArrival).Hours()
	r := domain.PerformanceRecord{
		ForecastID:         f.ID,
		Source:             source,
		PredictedArrival:   predicted,
		ActualArrival:      o.ActualArrival.UTC(),
		SignedErrorHours:   signed,
		AbsoluteErrorHours: math.Abs(signed),
		ValidatedAt:        now,
	}
	if o.MinDst != nil && hasSev {
		r.SeverityEvaluated = true
		r.SeverityCorrect = sev == domain.SeverityForDst(*o.MinDst)
	}
	return r
}

// score maps an absolute error to [0,1]: 1 for a perfect forecast, 0.5 at
// ErrorScaleHours.
func (t *Tracker) score(absErrorHours float64) float64 {
	return domain.Clamp01(1 / (1 + absErrorHours/t.params.ErrorScaleHours))
}

func (t *Tracker) appendRecords(rs []domain.PerformanceRecord) {
	for _, r := range rs {
		s, ok := t.stats[r.Source]
		if !ok {
			s = &SourceStats{Source: r.Source}
			t.stats[r.Source] = s
		}
		s.add(r)
	}
	t.records = append(t.records, rs...)
	if over := len(t.records) - t.params.RecordRetention; over > 0 {
		t.records = append(t.records[:0:0], t.records[over:]...)
	}
}

func (t *Tracker) lookup(id string) (*tracked, bool) {
	if tr, ok := t.forecasts[id]; ok {
		return tr, true
	}
	tr, ok := t.validated[id]
	return tr, ok
}

func (t *Tracker) known(id string) bool {
	_, ok := t.lookup(id)
	return ok
}

// retainValidated moves a validated forecast out of the published set into
// the bounded validated history.
func (t *Tracker) retainValidated(tr *tracked) {
	f := tr.forecast
	delete(t.forecasts, f.ID)
	if t.latest[f.EventID] == f.ID {
		delete(t.latest, f.EventID)
	}
	t.validated[f.ID] = tr
	t.validatedIDs = append(t.validatedIDs, f.ID)

	over := len(t.validatedIDs) - t.params.ForecastRetention
	if over <= 0 {
		return
	}
	for _, id := range t.validatedIDs[:over] {
		if old, ok := t.validated[id]; ok {
			t.archive(old, "retention")
			delete(t.validated, id)
		}
	}
	t.validatedIDs = append(t.validatedIDs[:0:0], t.validatedIDs[over:]...)
}

// evictPublished archives the oldest forecasts still awaiting an outcome
// once more than ForecastRetention are pending.
func (t *Tracker) evictPublished() {
	i := 0
	for len(t.forecasts) > t.params.ForecastRetention && i < len(t.published) {
		id := t.published[i]
		i++
		tr, ok := t.forecasts[id]
		if !ok {
			continue
		}
		t.archive(tr, "retention")
		delete(t.forecasts, id)
		if t.latest[tr.forecast.EventID] == id {
			delete(t.latest, tr.forecast.EventID)
		}
	}
	t.published = t.published[i:]
	if len(t.published) > 2*t.params.ForecastRetention {
		live := make([]string, 0, len(t.forecasts))
		for _, id := range t.published {
			if _, ok := t.forecasts[id]; ok {
				live = append(live, id)
			}
		}
		t.published = live
	}
}

func (t *Tracker) archive(tr *tracked, reason string) {
	if err := tr.lifecycle.Transition(domain.StateArchived); err != nil {
		t.logger.Warn("archive forecast", "forecast_id", tr.forecast.ID, "error", err)
		return
	}
	t.logger.Debug("forecast archived", "forecast_id", tr.forecast.ID, "reason", reason)
}

func (t *Tracker) persist(ctx context.Context, snap *ensemble.Snapshot) {
	if t.sink == nil || snap == nil {
		return
	}
	if err := t.sink.SaveTrust(ctx, snap); err != nil {
		t.logger.Error("persist trust snapshot", "version", snap.Version, "error", err)
	}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
