package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Model kinds accepted in artifacts.
const (
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
	KindMLP              = "mlp"
	KindLinear           = "linear"
)

var errNonFinite = errors.New("non-finite model output")

// regressor evaluates one trained head on a feature vector.
type regressor interface {
	eval(x []float64) (float64, error)
	validate(nFeatures int) error
}

// spreader is implemented by ensembles that can report member disagreement.
type spreader interface {
	spread(x []float64) float64
}

func decodeRegressor(kind string, raw json.RawMessage) (regressor, error) {
	var r regressor
	switch kind {
	case KindRandomForest:
		r = &forest{}
	case KindGradientBoosting:
		r = &boosted{}
	case KindMLP:
		r = &mlp{}
	case KindLinear:
		r = &linear{}
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return r, nil
}

// --- decision trees ---

// treeNode is a split when Feature >= 0 and a leaf otherwise.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t tree) eval(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// validate checks indices and that every child index moves forward, which
// rules out cycles.
func (t tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid child index", i)
		}
	}
	return nil
}

type forest struct {
	Trees []tree `json:"trees"`
}

func (f *forest) validate(nFeatures int) error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, t := range f.Trees {
		if err := t.validate(nFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (f *forest) eval(x []float64) (float64, error) {
	var sum float64
	for _, t := range f.Trees {
		sum += t.eval(x)
	}
	return finite(sum / float64(len(f.Trees)))
}

func (f *forest) spread(x []float64) float64 {
	mean, _ := f.eval(x)
	var ss float64
	for _, t := range f.Trees {
		d := t.eval(x) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(f.Trees)))
}

type boosted struct {
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []tree  `json:"trees"`
}

func (b *boosted) validate(nFeatures int) error {
	if b.LearningRate <= 0 {
		return errors.New("learning_rate must be positive")
	}
	for i, t := range b.Trees {
		if err := t.validate(nFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (b *boosted) eval(x []float64) (float64, error) {
	y := b.Init
	for _, t := range b.Trees {
		y += b.LearningRate * t.eval(x)
	}
	return finite(y)
}

// --- standardised inputs shared by the linear and neural models ---

type scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s scaler) validate(nFeatures int) error {
	if len(s.Mean) == 0 && len(s.Scale) == 0 {
		return nil
	}
	if len(s.Mean) != nFeatures || len(s.Scale) != nFeatures {
		return fmt.Errorf("scaler needs %d means and scales", nFeatures)
	}
	for i, v := range s.Scale {
		if v == 0 {
			return fmt.Errorf("scaler: zero scale for feature %d", i)
		}
	}
	return nil
}

func (s scaler) apply(x []float64) []float64 {
	if len(s.Mean) == 0 {
		return x
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = (x[i] - s.Mean[i]) / s.Scale[i]
	}
	return out
}

type linear struct {
	Scaler       scaler    `json:"scaler"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

func (l *linear) validate(nFeatures int) error {
	if len(l.Coefficients) != nFeatures {
		return fmt.Errorf("linear model needs %d coefficients, got %d", nFeatures, len(l.Coefficients))
	}
	return l.Scaler.validate(nFeatures)
}

func (l *linear) eval(x []float64) (float64, error) {
	z := l.Scaler.apply(x)
	y := l.Intercept
	for i, c := range l.Coefficients {
		y += c * z[i]
	}
	return finite(y)
}

type layer struct {
	// Weights is [outputs][inputs].
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type mlp struct {
	Scaler scaler  `json:"scaler"`
	Layers []layer `json:"layers"`
}

func (m *mlp) validate(nFeatures int) error {
	if len(m.Layers) == 0 {
		return errors.New("network has no layers")
	}
	in := nFeatures
	for i, l := range m.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("layer %d: weights and bias disagree", i)
		}
		for _, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d: expected %d inputs", i, in)
			}
		}
		switch l.Activation {
		case "relu", "tanh", "identity", "":
		default:
			return fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		in = len(l.Weights)
	}
	if in != 1 {
		return fmt.Errorf("network must have a single output, has %d", in)
	}
	return m.Scaler.validate(nFeatures)
}

func (m *mlp) eval(x []float64) (float64, error) {
	a := m.Scaler.apply(x)
	for _, l := range m.Layers {
		next := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			s := l.Bias[j]
			for i, w := range row {
				s += w * a[i]
			}
			next[j] = activate(l.Activation, s)
		}
		a = next
	}
	return finite(a[0])
}

func activate(name string, v float64) float64 {
	switch name {
	case "relu":
		return math.Max(0, v)
	case "tanh":
		return math.Tanh(v)
	default:
		return v
	}
}

func finite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}
