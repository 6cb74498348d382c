package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/pipeline"
	"github.com/couchcryptid/space-weather-forecast/internal/predictor"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readArchive returns each archived event as a raw message, as the event
// topic would deliver it.
func readArchive(t *testing.T) map[string]domain.RawEvent {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "events.json"))
	require.NoError(t, err)

	var records []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &records))

	out := make(map[string]domain.RawEvent, len(records))
	for _, r := range records {
		var head struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(r, &head))
		out[head.ID] = domain.RawEvent{Key: []byte(head.ID), Value: r, Topic: "solar-events"}
	}
	return out
}

func TestForecastTransformer_Archive(t *testing.T) {
	reg := predictor.LoadDir("../predictor/testdata/artifacts", discardLogger())
	h := newHarness(t, nil, time.Second, reg.Predictors()...)
	transformer := pipeline.NewTransformer(h.engine, nil, discardLogger())

	archive := readArchive(t)
	require.Len(t, archive, 8)

	forecasts := make(map[string]domain.Forecast, len(archive))
	for id, raw := range archive {
		t.Run(id, func(t *testing.T) {
			f, err := transformer.Transform(context.Background(), raw)
			require.NoError(t, err)

			assert.Equal(t, id, f.EventID)
			assert.Equal(t, 1+reg.ExpectedFor(f.EventKind), len(f.Contributions)+len(f.Unavailable),
				"every source is either used or reported unavailable")
			assert.GreaterOrEqual(t, f.TransitUpperHours, f.TransitLowerHours)
			assert.GreaterOrEqual(t, f.Confidence, 0.0)
			assert.LessOrEqual(t, f.Confidence, 1.0)
			assert.GreaterOrEqual(t, f.ImpactProbability, 0.0)
			assert.LessOrEqual(t, f.ImpactProbability, 1.0)
			assert.NotNil(t, f.Impacts)
			forecasts[id] = f
		})
	}

	t.Run("relative outcomes", func(t *testing.T) {
		gannon, quiet := forecasts["cme-2024-05-10"], forecasts["cme-2023-02-24"]
		assert.GreaterOrEqual(t, int(gannon.Severity), int(quiet.Severity))
		assert.Greater(t, gannon.ImpactProbability, quiet.ImpactProbability)

		farSide := forecasts["cme-2022-01-29"]
		assert.Less(t, farSide.ImpactProbability, gannon.ImpactProbability)

		assert.Contains(t, forecasts["flr-2017-09-06"].Impacts, domain.ImpactRadioDisruption)
		assert.Contains(t, forecasts["sep-2024-05-11"].Impacts, domain.ImpactRadiationStorm)
		assert.InDelta(t, 0.0, forecasts["gst-2024-05-10"].TransitHours, 1e-9)
		assert.Less(t, forecasts["flr-2017-09-06"].TransitHours, 1.0)
	})
}

func TestForecastTransformer_InvalidMessage(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	transformer := pipeline.NewTransformer(h.engine, nil, discardLogger())

	_, err := transformer.Transform(context.Background(), domain.RawEvent{Value: []byte(`{"kind":"CME","onset":"2024-05-10T06:36:00Z"}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = transformer.Transform(context.Background(), domain.RawEvent{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestForecastTransformer_RevisionWithoutUpstreamID(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	tr := tracker.New(h.trust, tracker.DefaultParams(), discardLogger())
	transformer := pipeline.NewTransformer(h.engine, tr, discardLogger())

	first, err := transformer.Transform(context.Background(), domain.RawEvent{
		Value: []byte(`{"kind":"CME","onset":"2024-05-10T06:36:00Z","speed":1163,"half_angle":33,"source_location":"N03E59"}`),
	})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(first))

	revised, err := transformer.Transform(context.Background(), domain.RawEvent{
		Value: []byte(`{"kind":"CME","onset":"2024-05-10T06:36:00Z","speed":1400,"half_angle":40,"source_location":"N03E59"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, first.EventID, revised.EventID)
	assert.Equal(t, 2, revised.Version)
	assert.Equal(t, first.ID, revised.Supersedes)
}
