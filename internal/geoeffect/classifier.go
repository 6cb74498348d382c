// Package geoeffect scores how likely an event is to disturb the
// magnetosphere and buckets that score onto the shared severity scale.
package geoeffect

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
)

// Weights are the relative contributions of each factor. They are
// normalised by their sum, so only ratios matter.
type Weights struct {
	Speed    float64 `mapstructure:"speed"`
	Width    float64 `mapstructure:"width"`
	Location float64 `mapstructure:"location"`
	Coupling float64 `mapstructure:"coupling"`
}

// Params configures the classifier.
type Params struct {
	Weights      Weights `mapstructure:"weights"`
	SpeedFloor   float64 `mapstructure:"speed_floor"`
	SpeedCeiling float64 `mapstructure:"speed_ceiling"`
	// WidthFull is the half-width in degrees that earns the full width factor.
	WidthFull float64 `mapstructure:"width_full"`
	// UnknownSourceCeiling caps the score of unresolved or far-side sources.
	UnknownSourceCeiling float64              `mapstructure:"unknown_source_ceiling"`
	LogisticSlope        float64              `mapstructure:"logistic_slope"`
	LogisticMidpoint     float64              `mapstructure:"logistic_midpoint"`
	Scale                domain.SeverityScale `mapstructure:"scale"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		Weights:              Weights{Speed: 0.35, Width: 0.15, Location: 0.20, Coupling: 0.30},
		SpeedFloor:           300,
		SpeedCeiling:         2000,
		WidthFull:            90,
		UnknownSourceCeiling: 0.25,
		LogisticSlope:        10,
		LogisticMidpoint:     0.45,
		Scale:                domain.DefaultSeverityScale(),
	}
}

// Validate rejects parameters that would break score normalisation.
func (p Params) Validate() error {
	w := p.Weights
	if w.Speed < 0 || w.Width < 0 || w.Location < 0 || w.Coupling < 0 {
		return fmt.Errorf("geoeffect weights must be non-negative")
	}
	if w.Speed+w.Width+w.Location+w.Coupling <= 0 {
		return fmt.Errorf("geoeffect weights must not all be zero")
	}
	if p.SpeedCeiling <= p.SpeedFloor {
		return fmt.Errorf("geoeffect speed_ceiling must exceed speed_floor")
	}
	if p.WidthFull <= 0 {
		return fmt.Errorf("geoeffect width_full must be positive")
	}
	if p.UnknownSourceCeiling < 0 || p.UnknownSourceCeiling > 1 {
		return fmt.Errorf("geoeffect unknown_source_ceiling must be within [0, 1]")
	}
	if p.LogisticSlope <= 0 {
		return fmt.Errorf("geoeffect logistic_slope must be positive")
	}
	return p.Scale.Validate()
}

// Factors are the normalised [0,1] inputs to the score.
type Factors struct {
	Speed             float64 `json:"speed"`
	Width             float64 `json:"width"`
	Location          float64 `json:"location"`
	Coupling          float64 `json:"coupling"`
	CouplingAvailable bool    `json:"coupling_available"`
}

// Assessment is the classifier output for one event.
type Assessment struct {
	Score             float64         `json:"score"`
	Severity          domain.Severity `json:"severity"`
	ImpactProbability float64         `json:"impact_probability"`
	Factors           Factors         `json:"factors"`
	// Capped is set when the unknown-source ceiling limited the score.
	Capped     bool    `json:"capped"`
	Confidence float64 `json:"confidence"`
}

// Classifier turns event geometry and physics output into a severity.
type Classifier struct {
	params Params
}

// New returns a Classifier using p.
func New(p Params) *Classifier {
	return &Classifier{params: p}
}

// Scale returns the severity scale used for bucketing.
func (c *Classifier) Scale() domain.SeverityScale {
	return c.params.Scale
}

// Assess scores event. pred may be nil when the physics branch failed; the
// coupling factor then contributes nothing and confidence is halved.
func (c *Classifier) Assess(event domain.EventRecord, pred *physics.Prediction) Assessment {
	p := c.params
	f := Factors{
		Speed: c.intensity(event),
		Width: domain.Clamp01(event.HalfWidth / p.WidthFull),
	}

	// A storm already in progress is connected to Earth by definition.
	geometryKnown := event.Kind == domain.KindGeoStorm
	if geometryKnown {
		f.Location = 1
	} else if d, ok := event.DiskDistance(); ok {
		f.Location = math.Max(0, math.Cos(d*math.Pi/180))
		geometryKnown = true
	}

	if pred != nil && pred.Aurora != nil {
		f.Coupling = domain.Clamp01(pred.Aurora.Kp / 9)
		f.CouplingAvailable = true
	}

	w := p.Weights
	total := w.Speed + w.Width + w.Location + w.Coupling
	score := (w.Speed*f.Speed + w.Width*f.Width + w.Location*f.Location + w.Coupling*f.Coupling) / total
	score = domain.Clamp01(score)

	a := Assessment{Factors: f, Confidence: 1}
	if event.Kind != domain.KindGeoStorm && event.FarSide() && score > p.UnknownSourceCeiling {
		score = p.UnknownSourceCeiling
		a.Capped = true
	}
	if !f.CouplingAvailable {
		a.Confidence *= 0.5
	}
	if !geometryKnown {
		a.Confidence *= 0.5
	}

	a.Score = score
	a.Severity = p.Scale.Bucket(score)
	a.ImpactProbability = ImpactProbability(score, p.LogisticSlope, p.LogisticMidpoint)
	return a
}

// intensity is the speed factor for ejections. Flares have no speed, so the
// X-ray class is used on a logarithmic scale instead (C1 → 0, X1 → 1).
func (c *Classifier) intensity(event domain.EventRecord) float64 {
	if event.Kind == domain.KindFlare && event.Speed == 0 {
		flux, ok := FlareFlux(event.FlareClass)
		if !ok {
			return 0
		}
		return domain.Clamp01((math.Log10(flux) + 6) / 2)
	}
	p := c.params
	return domain.Clamp01((event.Speed - p.SpeedFloor) / (p.SpeedCeiling - p.SpeedFloor))
}

// ImpactProbability maps a score to an Earth-impact probability with a
// logistic curve. It is monotonically non-decreasing in score.
func ImpactProbability(score, slope, midpoint float64) float64 {
	return 1 / (1 + math.Exp(-slope*(score-midpoint)))
}

var flareClassRe = regexp.MustCompile(`^([ABCMX])(\d+(?:\.\d+)?)?$`)

// FlareFlux converts a GOES class like "M5.2" to peak 1–8 Å flux in W/m².
func FlareFlux(class string) (float64, bool) {
	m := flareClassRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(class)))
	if m == nil {
		return 0, false
	}
	base := map[string]float64{"A": 1e-8, "B": 1e-7, "C": 1e-6, "M": 1e-5, "X": 1e-4}[m[1]]
	mult := 1.0
	if m[2] != "" {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil || v <= 0 {
			return 0, false
		}
		mult = v
	}
	return base * mult, true
}
