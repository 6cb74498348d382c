package redis

import (
	"testing"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEncoding(t *testing.T) {
	updated := time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC)
	snap := &ensemble.Snapshot{
		Version:       7,
		DefaultWeight: 0.5,
		Weights: map[string]ensemble.TrustWeight{
			"physics":       {Weight: 0.82, Outcomes: 12, UpdatedAt: updated},
			"random-forest": {Weight: 0.12, Degraded: true, Outcomes: 9, UpdatedAt: updated},
		},
	}

	data, err := encodeSnapshot(snap)
	require.NoError(t, err)

	got, err := decodeSnapshot(data)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSnapshot_EmptyWeights(t *testing.T) {
	got, err := decodeSnapshot([]byte(`{"version":3,"default_weight":0.5}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Weights)
	assert.Equal(t, uint64(3), got.Version)
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	_, err := decodeSnapshot([]byte(`not json`))
	assert.ErrorContains(t, err, "decode trust snapshot")
}

func TestEncodeSnapshot_Nil(t *testing.T) {
	_, err := encodeSnapshot(nil)
	assert.Error(t, err)
}
