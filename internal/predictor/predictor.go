// Package predictor hosts the learned regressors that run alongside the
// physical models. Each predictor is loaded from an immutable, versioned
// JSON artifact and either returns an estimate or declines.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// SchemaVersion is the artifact format this build understands.
const SchemaVersion = 2

// ErrDeclined is returned when a predictor refuses an input, typically
// because it lies outside the training distribution.
var ErrDeclined = errors.New("predictor declined")

// Output is a successful predictor evaluation.
type Output struct {
	TransitHours  float64
	SeverityScore float64
	HasSeverity   bool
	Confidence    float64
}

// Predictor is the capability every learned model provides: given a
// feature vector, return an estimate or decline.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, f Features) (Output, error)
}

// KindScoped is implemented by predictors trained on a subset of event
// kinds. Predictors that do not implement it serve CME events only.
type KindScoped interface {
	EventKinds() []domain.Kind
}

// Supports reports whether p should be consulted for events of kind.
func Supports(p Predictor, kind domain.Kind) bool {
	if s, ok := p.(KindScoped); ok {
		return slices.Contains(s.EventKinds(), kind)
	}
	return kind == domain.KindCME
}

// Invoke runs p and converts the outcome into a tagged SourceResult.
// Errors and declines become Unavailable; malformed estimates are caught by
// SourceResult.Check.
func Invoke(ctx context.Context, p Predictor, f Features) domain.SourceResult {
	out, err := p.Predict(ctx, f)
	if err != nil {
		return domain.Unavailable(p.Name(), err.Error())
	}
	return domain.Ok(p.Name(), domain.Estimate{
		TransitHours:  out.TransitHours,
		SeverityScore: out.SeverityScore,
		HasSeverity:   out.HasSeverity,
		Confidence:    out.Confidence,
	}).Check()
}

// Artifact is the on-disk form of a trained predictor.
type Artifact struct {
	SchemaVersion int       `json:"schema_version"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Version       string    `json:"version"`
	// EventKinds lists the event kinds the model was trained on. Empty
	// means CME only.
	EventKinds []domain.Kind `json:"event_kinds,omitempty"`
	TrainedAt     time.Time `json:"trained_at"`
	Features      []string  `json:"features"`
	// Confidence is the validation skill used as the base self-confidence.
	Confidence float64 `json:"confidence"`
	// Bounds are per-feature [min, max] training ranges. Inputs outside
	// any bound are declined.
	Bounds map[string][2]float64 `json:"bounds,omitempty"`
	// SpreadScale converts ensemble member spread (hours) into a confidence
	// penalty. Zero disables it.
	SpreadScale float64         `json:"spread_scale,omitempty"`
	Transit     json.RawMessage `json:"transit"`
	Severity    json.RawMessage `json:"severity,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// model is a loaded artifact.
type model struct {
	artifact Artifact
	kinds    []domain.Kind
	transit  regressor
	severity regressor
	bounds   []bound
}

type bound struct {
	index    int
	min, max float64
}

// New builds a predictor from a decoded artifact after checking its
// schema version, feature list and model structure.
func New(a Artifact) (Predictor, error) {
	if a.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("incompatible schema version %d, want %d", a.SchemaVersion, SchemaVersion)
	}
	if a.Name == "" {
		return nil, errors.New("artifact has no name")
	}
	if a.Name == domain.SourcePhysics || a.Name == domain.SourceEnsemble {
		return nil, fmt.Errorf("predictor name %q is reserved", a.Name)
	}
	if !slices.Equal(a.Features, FeatureNames) {
		return nil, fmt.Errorf("feature list does not match this build (%d features)", len(FeatureNames))
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0, 1]", a.Confidence)
	}

	kinds, err := eventKinds(a.EventKinds)
	if err != nil {
		return nil, err
	}
	m := &model{artifact: a, kinds: kinds}
	if m.transit, err = buildHead(a.Kind, a.Transit); err != nil {
		return nil, fmt.Errorf("transit head: %w", err)
	}
	if len(a.Severity) > 0 && string(a.Severity) != "null" {
		if m.severity, err = buildHead(a.Kind, a.Severity); err != nil {
			return nil, fmt.Errorf("severity head: %w", err)
		}
	}
	for name, b := range a.Bounds {
		idx := indexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("bound on unknown feature %q", name)
		}
		m.bounds = append(m.bounds, bound{index: idx, min: b[0], max: b[1]})
	}
	slices.SortFunc(m.bounds, func(x, y bound) int { return x.index - y.index })
	return m, nil
}

func (m *model) Name() string { return m.artifact.Name }

// EventKinds returns the event kinds the model serves.
func (m *model) EventKinds() []domain.Kind { return slices.Clone(m.kinds) }

// Version returns the artifact version string.
func (m *model) Version() string { return m.artifact.Version }

func (m *model) Predict(ctx context.Context, f Features) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if len(f) != len(FeatureNames) {
		return Output{}, fmt.Errorf("feature vector has %d values, want %d", len(f), len(FeatureNames))
	}
	for _, b := range m.bounds {
		if v := f[b.index]; v < b.min || v > b.max {
			return Output{}, fmt.Errorf("%w: %s=%g outside training range", ErrDeclined, FeatureNames[b.index], v)
		}
	}

	transit, err := m.transit.eval(f)
	if err != nil {
		return Output{}, fmt.Errorf("transit: %w", err)
	}
	if transit <= 0 {
		return Output{}, fmt.Errorf("%w: non-positive transit estimate", ErrDeclined)
	}

	out := Output{TransitHours: transit, Confidence: m.artifact.Confidence}
	if s, ok := m.transit.(spreader); ok && m.artifact.SpreadScale > 0 {
		out.Confidence /= 1 + s.spread(f)/m.artifact.SpreadScale
	}
	if m.severity != nil {
		score, err := m.severity.eval(f)
		if err != nil {
			return Output{}, fmt.Errorf("severity: %w", err)
		}
		out.SeverityScore = domain.Clamp01(score)
		out.HasSeverity = true
	}
	return out, nil
}

func buildHead(kind string, raw json.RawMessage) (regressor, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing model")
	}
	r, err := decodeRegressor(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := r.validate(len(FeatureNames)); err != nil {
		return nil, err
	}
	return r, nil
}

func eventKinds(declared []domain.Kind) ([]domain.Kind, error) {
	if len(declared) == 0 {
		return []domain.Kind{domain.KindCME}, nil
	}
	for _, k := range declared {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
	}
	return slices.Compact(slices.Sorted(slices.Values(declared))), nil
}

func indexOf(name string) int {
	return slices.Index(FeatureNames, name)
}
