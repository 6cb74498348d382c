package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityScale_Bucket(t *testing.T) {
	sc := DefaultSeverityScale()
	require.NoError(t, sc.Validate())

	tests := []struct {
		score float64
		want  Severity
	}{
		{0, SeverityMinimal},
		{0.19, SeverityMinimal},
		{0.20, SeverityLow},
		{0.39, SeverityLow},
		{0.40, SeverityModerate},
		{0.55, SeverityHigh},
		{0.75, SeverityExtreme},
		{1, SeverityExtreme},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sc.Bucket(tt.score), "score %v", tt.score)
	}
}

func TestSeverityScale_Monotonic(t *testing.T) {
	sc := DefaultSeverityScale()
	prev := sc.Bucket(0)
	for i := 1; i <= 1000; i++ {
		cur := sc.Bucket(float64(i) / 1000)
		assert.GreaterOrEqual(t, int(cur), int(prev))
		prev = cur
	}
}

func TestSeverityScale_ValidateRejectsUnordered(t *testing.T) {
	sc := SeverityScale{Low: 0.5, Moderate: 0.4, High: 0.6, Extreme: 0.8}
	assert.Error(t, sc.Validate())
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"HIGH"}`, string(data))

	var out struct {
		S Severity `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"extreme"}`), &out))
	assert.Equal(t, SeverityExtreme, out.S)

	assert.Error(t, json.Unmarshal([]byte(`{"s":"apocalyptic"}`), &out))
}

func TestClassifyDst(t *testing.T) {
	tests := []struct {
		dst   float64
		class StormClass
		sev   Severity
	}{
		{0, StormQuiet, SeverityMinimal},
		{-29.9, StormQuiet, SeverityMinimal},
		{-30, StormMinor, SeverityLow},
		{-75, StormModerate, SeverityModerate},
		{-150, StormIntense, SeverityHigh},
		{-250, StormExtreme, SeverityExtreme},
		{-400, StormExtreme, SeverityExtreme},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, ClassifyDst(tt.dst), "dst %v", tt.dst)
		assert.Equal(t, tt.sev, SeverityForDst(tt.dst), "dst %v", tt.dst)
	}
}

func TestSourceResult_Check(t *testing.T) {
	ok := Ok("rf", Estimate{TransitHours: 40, Confidence: 0.8, SeverityScore: 0.5, HasSeverity: true})
	assert.Equal(t, StatusOK, ok.Check().Status)

	bad := Ok("rf", Estimate{TransitHours: -1, Confidence: 0.8})
	checked := bad.Check()
	assert.Equal(t, StatusUnavailable, checked.Status)
	assert.Contains(t, checked.Reason, "transit")

	bad = Ok("rf", Estimate{TransitHours: 10, Confidence: 1.5})
	assert.Equal(t, StatusUnavailable, bad.Check().Status)

	var zero SourceResult
	assert.Equal(t, StatusUnavailable, zero.Check().Status)

	weird := SourceResult{Source: "rf", Status: ResultStatus(7)}
	assert.Equal(t, StatusUnavailable, weird.Check().Status)
}

func TestLifecycle(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		l := NewLifecycle()
		require.NoError(t, l.Transition(StatePhysicsResolved))
		require.NoError(t, l.Transition(StateEnsembleResolved))
		require.NoError(t, l.Transition(StatePublished))
		require.NoError(t, l.Transition(StateValidated))
		require.NoError(t, l.Transition(StateArchived))
		assert.Equal(t, StateArchived, l.State())
	})

	t.Run("ensemble needs evidence", func(t *testing.T) {
		l := NewLifecycle()
		require.NoError(t, l.Transition(StatePhysicsFailed))
		err := l.Transition(StateEnsembleResolved)
		assert.True(t, errors.Is(err, ErrIllegalTransition))

		l = NewLifecycle()
		require.NoError(t, l.Transition(StatePhysicsFailed))
		l.MarkLearnedResolved()
		assert.NoError(t, l.Transition(StateEnsembleResolved))
	})

	t.Run("validated only from published", func(t *testing.T) {
		l := NewLifecycle()
		assert.ErrorIs(t, l.Transition(StateValidated), ErrIllegalTransition)

		l = RestoreLifecycle(StateEnsembleResolved)
		assert.ErrorIs(t, l.Transition(StateValidated), ErrIllegalTransition)
	})

	t.Run("validated is terminal for validation", func(t *testing.T) {
		l := RestoreLifecycle(StatePublished)
		require.NoError(t, l.Transition(StateValidated))
		assert.ErrorIs(t, l.Transition(StateValidated), ErrIllegalTransition)
		assert.ErrorIs(t, l.Transition(StatePublished), ErrIllegalTransition)
	})
}
