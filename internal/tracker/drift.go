package tracker

import (
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// DriftAlert reports a source whose rolling error stayed above the
// threshold for the configured number of consecutive outcomes. The source
// is marked degraded until an operator resets it.
type DriftAlert struct {
	Source            string    `json:"source"`
	RollingErrorHours float64   `json:"rolling_error_hours"`
	Consecutive       int       `json:"consecutive"`
	At                time.Time `json:"at"`
}

type driftState struct {
	window      []float64
	consecutive int
}

func (d *driftState) push(absErr float64, size int) float64 {
	d.window = append(d.window, absErr)
	if len(d.window) > size {
		d.window = d.window[len(d.window)-size:]
	}
	var sum float64
	for _, e := range d.window {
		sum += e
	}
	return sum / float64(len(d.window))
}

// detectDrift updates the rolling windows and returns alerts for sources
// that crossed into degradation with these records. Callers hold t.mu.
func (t *Tracker) detectDrift(records []domain.PerformanceRecord, now time.Time) []DriftAlert {
	snap := t.registry.Snapshot()
	var alerts []DriftAlert
	for _, r := range records {
		st, ok := t.drift[r.Source]
		if !ok {
			st = &driftState{}
			t.drift[r.Source] = st
		}
		rolling := st.push(r.AbsoluteErrorHours, t.params.DriftWindow)
		if rolling > t.params.DriftThresholdHours {
			st.consecutive++
		} else {
			st.consecutive = 0
		}
		if st.consecutive >= t.params.DriftConsecutive && !snap.Weight(r.Source).Degraded {
			alerts = append(alerts, DriftAlert{
				Source:            r.Source,
				RollingErrorHours: rolling,
				Consecutive:       st.consecutive,
				At:                now,
			})
		}
	}
	return alerts
}
