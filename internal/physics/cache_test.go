package physics

import (
	"testing"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPredictor struct {
	calls int
	err   error
}

func (m *countingPredictor) Predict(e domain.EventRecord) (Prediction, error) {
	m.calls++
	if m.err != nil {
		return Prediction{}, m.err
	}
	return Prediction{EventID: e.ID, TransitHours: 42}, nil
}

func TestCachedModel_CacheHit(t *testing.T) {
	inner := &countingPredictor{}
	var hits, misses int
	cached := NewCachedModel(inner, 10, func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})

	p1, err := cached.Predict(scenarioA())
	require.NoError(t, err)
	p2, err := cached.Predict(scenarioA())
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestCachedModel_ChangedEventMisses(t *testing.T) {
	inner := &countingPredictor{}
	cached := NewCachedModel(inner, 10, nil)

	e := scenarioA()
	_, _ = cached.Predict(e)
	e.SolarWind = &domain.SolarWind{Speed: domain.Float(500), Density: domain.Float(8), Bz: domain.Float(-15)}
	_, _ = cached.Predict(e)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedModel_ErrorsNotCached(t *testing.T) {
	inner := &countingPredictor{err: &ComputationError{Model: "drag", Reason: "test"}}
	cached := NewCachedModel(inner, 10, nil)

	_, err := cached.Predict(scenarioB())
	assert.ErrorIs(t, err, ErrComputation)
	_, err = cached.Predict(scenarioB())
	assert.ErrorIs(t, err, ErrComputation)

	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.Len())
}

func TestCachedModel_HitsDoNotShareState(t *testing.T) {
	cached := NewCachedModel(NewModel(DefaultParams()), 10, nil)

	first, err := cached.Predict(scenarioA())
	require.NoError(t, err)
	require.NotNil(t, first.Drag)
	require.NotNil(t, first.Dst)
	require.NotEmpty(t, first.Dst.Series)
	want := first.Clone()

	first.Drag.TransitHours = -1
	first.Dst.Series[0].Dst = 999
	first.Notes = append(first.Notes, "mutated")

	hit, err := cached.Predict(scenarioA())
	require.NoError(t, err)
	assert.Equal(t, want, hit)

	hit.Dst.MinDst = 0
	again, err := cached.Predict(scenarioA())
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

// --- LRU cache unit tests ---

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", Prediction{EventID: "A"})
	c.put("b", Prediction{EventID: "B"})
	c.put("c", Prediction{EventID: "C"}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result.EventID)
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", Prediction{EventID: "A"})
	c.put("b", Prediction{EventID: "B"})
	c.get("a")
	c.put("c", Prediction{EventID: "C"})

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", Prediction{EventID: "A1"})
	c.put("a", Prediction{EventID: "A2"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result.EventID)
	assert.Equal(t, 1, c.len())
}
