package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// LoadFailure records a predictor that could not be loaded. It still counts
// as an expected source so coverage reflects its absence.
type LoadFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	// EventKinds are the kinds the artifact declared, when it could be
	// decoded. Empty means CME only.
	EventKinds []domain.Kind `json:"event_kinds,omitempty"`
}

func (f LoadFailure) supports(kind domain.Kind) bool {
	if len(f.EventKinds) == 0 {
		return kind == domain.KindCME
	}
	return slices.Contains(f.EventKinds, kind)
}

// Registry is the fixed set of predictors for the life of the process.
type Registry struct {
	predictors []Predictor
	failures   []LoadFailure
}

// NewRegistry builds a registry from already constructed predictors. Later
// duplicates of a name are recorded as failures.
func NewRegistry(predictors ...Predictor) *Registry {
	r := &Registry{}
	for _, p := range predictors {
		r.add(p, "")
	}
	r.sort()
	return r
}

// LoadDir loads every *.json artifact in dir. Unreadable, incompatible or
// invalid artifacts are recorded as failures and logged; they never abort
// start-up. A missing directory yields an empty registry.
func LoadDir(dir string, logger *slog.Logger) *Registry {
	r := &Registry{}
	if dir == "" {
		return r
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("predictor directory not found, running physics only", "dir", dir)
		} else {
			logger.Error("read predictor directory", "dir", dir, "error", err)
		}
		return r
	}

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fallback := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))

		a, err := readArtifact(path)
		if err != nil {
			logger.Warn("predictor unavailable", "file", path, "error", err)
			r.failures = append(r.failures, LoadFailure{Name: fallback, Reason: err.Error()})
			continue
		}
		p, err := build(a)
		if err != nil {
			logger.Warn("predictor unavailable", "file", path, "error", err)
			r.failures = append(r.failures, LoadFailure{Name: fallback, Reason: err.Error(), EventKinds: a.EventKinds})
			continue
		}
		if reason := r.add(p, path); reason != "" {
			logger.Warn("predictor unavailable", "file", path, "reason", reason)
			continue
		}
		logger.Info("predictor loaded", "name", p.Name(), "file", path)
	}
	r.sort()
	return r
}

// LoadFile decodes and validates a single artifact.
func LoadFile(path string) (Predictor, error) {
	a, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	return build(a)
}

func readArtifact(path string) (Artifact, error) {
	var a Artifact
	data, err := os.ReadFile(path)
	if err != nil {
		return a, fmt.Errorf("read artifact: %w", err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("decode artifact: %w", err)
	}
	return a, nil
}

func build(a Artifact) (Predictor, error) {
	p, err := New(a)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", a.Name, err)
	}
	return p, nil
}

func (r *Registry) add(p Predictor, origin string) string {
	if slices.ContainsFunc(r.predictors, func(q Predictor) bool { return q.Name() == p.Name() }) {
		reason := "duplicate predictor name"
		if origin != "" {
			reason += " in " + origin
		}
		r.failures = append(r.failures, LoadFailure{Name: p.Name(), Reason: reason})
		return reason
	}
	r.predictors = append(r.predictors, p)
	return ""
}

func (r *Registry) sort() {
	slices.SortFunc(r.predictors, func(a, b Predictor) int { return strings.Compare(a.Name(), b.Name()) })
	slices.SortFunc(r.failures, func(a, b LoadFailure) int { return strings.Compare(a.Name, b.Name) })
}

// Predictors returns the loaded predictors sorted by name.
func (r *Registry) Predictors() []Predictor {
	return slices.Clone(r.predictors)
}

// Failures returns the predictors that failed to load.
func (r *Registry) Failures() []LoadFailure {
	return slices.Clone(r.failures)
}

// Expected is the number of learned sources a forecast should hear from,
// including those that failed to load.
func (r *Registry) Expected() int {
	return len(r.Names())
}

// For returns the loaded predictors that serve events of kind.
func (r *Registry) For(kind domain.Kind) []Predictor {
	var out []Predictor
	for _, p := range r.predictors {
		if Supports(p, kind) {
			out = append(out, p)
		}
	}
	return out
}

// ExpectedFor is Expected restricted to sources that serve kind.
func (r *Registry) ExpectedFor(kind domain.Kind) int {
	names := make(map[string]struct{})
	for _, p := range r.For(kind) {
		names[p.Name()] = struct{}{}
	}
	for _, f := range r.failures {
		if f.supports(kind) {
			names[f.Name] = struct{}{}
		}
	}
	return len(names)
}

// Names lists every registered source name, loaded or not.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.predictors)+len(r.failures))
	for _, p := range r.predictors {
		names = append(names, p.Name())
	}
	for _, f := range r.failures {
		if !slices.Contains(names, f.Name) {
			names = append(names, f.Name)
		}
	}
	slices.Sort(names)
	return names
}
