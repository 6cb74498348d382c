package predictor

import (
	"math"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// FeatureNames is the column order of every feature vector. Artifacts list
// the names they were trained on and are rejected on mismatch.
var FeatureNames = []string{
	"speed_km_s",
	"half_width_deg",
	"abs_latitude",
	"abs_longitude",
	"source_known",
	"cos_disk_distance",
	"cycle_sin",
	"cycle_cos",
	"doy_sin",
	"doy_cos",
	"wind_known",
	"wind_speed_km_s",
	"wind_density_cm3",
	"bz_nt",
}

// Substitutes used when the event has no solar-wind context.
const (
	fallbackWindSpeed = 400
	fallbackDensity   = 5
)

// cycleMinimum is the start of solar cycle 25.
var cycleMinimum = time.Date(2019, time.December, 1, 0, 0, 0, 0, time.UTC)

const cycleYears = 11.0

// Features is an engineered feature vector in FeatureNames order.
type Features []float64

// Get returns the named feature, or NaN for an unknown name.
func (f Features) Get(name string) float64 {
	for i, n := range FeatureNames {
		if n == name && i < len(f) {
			return f[i]
		}
	}
	return math.NaN()
}

// Extract builds the feature vector for event.
func Extract(event domain.EventRecord) Features {
	f := make(Features, len(FeatureNames))
	f[0] = event.Speed
	f[1] = event.HalfWidth

	f[3] = 90
	if event.SourceKnown() {
		f[2] = math.Abs(*event.Latitude)
		f[3] = math.Abs(*event.Longitude)
		f[4] = 1
		d, _ := event.DiskDistance()
		f[5] = math.Cos(d * math.Pi / 180)
	}

	phase := CyclePhase(event.Onset)
	f[6], f[7] = math.Sin(2*math.Pi*phase), math.Cos(2*math.Pi*phase)

	doy := float64(event.Onset.UTC().YearDay()-1) / 365.25
	f[8], f[9] = math.Sin(2*math.Pi*doy), math.Cos(2*math.Pi*doy)

	f[11], f[12] = fallbackWindSpeed, fallbackDensity
	if w := event.SolarWind; w != nil {
		if w.Complete() {
			f[10] = 1
		}
		if w.Speed != nil {
			f[11] = *w.Speed
		}
		if w.Density != nil {
			f[12] = *w.Density
		}
		if w.Bz != nil {
			f[13] = *w.Bz
		}
	}
	return f
}

// CyclePhase returns the position within the nominal 11-year solar cycle
// as a fraction in [0,1).
func CyclePhase(t time.Time) float64 {
	years := t.Sub(cycleMinimum).Hours() / (24 * 365.25)
	phase := math.Mod(years/cycleYears, 1)
	if phase < 0 {
		phase++
	}
	return phase
}
