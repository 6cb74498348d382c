package ensemble

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// TrustWeight is the calibrated reliability of one forecast source.
type TrustWeight struct {
	Weight    float64   `json:"weight"`
	Degraded  bool      `json:"degraded"`
	Outcomes  int       `json:"outcomes"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Snapshot is an immutable view of every trust weight. A new snapshot with
// a higher Version is published on each update; held snapshots never change.
type Snapshot struct {
	Version       uint64                 `json:"version"`
	DefaultWeight float64                `json:"default_weight"`
	Weights       map[string]TrustWeight `json:"weights"`
}

// Weight returns the trust for source, or the default for a source that
// has never been scored.
func (s *Snapshot) Weight(source string) TrustWeight {
	if w, ok := s.Weights[source]; ok {
		return w
	}
	return TrustWeight{Weight: s.DefaultWeight}
}

// Sources lists the sources with recorded weights, sorted.
func (s *Snapshot) Sources() []string {
	return slices.Sorted(maps.Keys(s.Weights))
}

// Registry holds the current trust snapshot. Reads are lock-free; writers
// are serialised and publish a fresh copy.
type Registry struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

// NewRegistry creates a registry in which unknown sources start at
// defaultWeight.
func NewRegistry(defaultWeight float64) *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{
		DefaultWeight: domain.Clamp01(defaultWeight),
		Weights:       map[string]TrustWeight{},
	})
	return r
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Update applies fn to a private copy of the weights and publishes the
// result as a new snapshot. Weights are clamped to [0,1]. Readers holding
// the previous snapshot are unaffected.
func (r *Registry) Update(fn func(weights map[string]TrustWeight)) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	weights := maps.Clone(prev.Weights)
	if weights == nil {
		weights = map[string]TrustWeight{}
	}
	fn(weights)
	for k, w := range weights {
		w.Weight = domain.Clamp01(w.Weight)
		weights[k] = w
	}
	next := &Snapshot{
		Version:       prev.Version + 1,
		DefaultWeight: prev.DefaultWeight,
		Weights:       weights,
	}
	r.current.Store(next)
	return next
}

// Reset clears the degraded flag on source and returns it to the default
// weight. It is the only way a degraded source re-enters the ensemble.
func (r *Registry) Reset(source string) (*Snapshot, error) {
	if source == "" {
		return nil, fmt.Errorf("reset trust: empty source")
	}
	return r.Update(func(weights map[string]TrustWeight) {
		w := weights[source]
		w.Weight = r.Snapshot().DefaultWeight
		w.Degraded = false
		w.UpdatedAt = domain.Now()
		weights[source] = w
	}), nil
}

// Restore replaces the current weights with a persisted snapshot. The
// version never moves backwards.
func (r *Registry) Restore(s Snapshot) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &Snapshot{
		Version:       max(prev.Version, s.Version) + 1,
		DefaultWeight: prev.DefaultWeight,
		Weights:       make(map[string]TrustWeight, len(s.Weights)),
	}
	for k, w := range s.Weights {
		w.Weight = domain.Clamp01(w.Weight)
		next.Weights[k] = w
	}
	r.current.Store(next)
	return next
}
