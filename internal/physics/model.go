package physics

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// Transit model names recorded on a Prediction.
const (
	TransitDrag        = "drag"
	TransitLightTravel = "light_travel"
	TransitSEPOnset    = "sep_onset"
	TransitInSitu      = "in_situ"
)

// Prediction is the physics output for one event. It is created once and
// never modified.
type Prediction struct {
	EventID      string        `json:"event_id"`
	TransitModel string        `json:"transit_model"`
	TransitHours float64       `json:"transit_hours"`
	Drag         *DragResult   `json:"drag,omitempty"`
	Dst          *DstResult    `json:"dst,omitempty"`
	Aurora       *AuroraResult `json:"aurora,omitempty"`
	// Wind is the resolved upstream state after defaults were applied.
	Wind          Wind     `json:"wind"`
	Confidence    float64  `json:"confidence"`
	LowConfidence bool     `json:"low_confidence"`
	Notes         []string `json:"notes,omitempty"`
}

// Clone returns a deep copy of p.
func (p Prediction) Clone() Prediction {
	if p.Drag != nil {
		d := *p.Drag
		p.Drag = &d
	}
	if p.Dst != nil {
		d := *p.Dst
		d.Series = slices.Clone(d.Series)
		p.Dst = &d
	}
	if p.Aurora != nil {
		a := *p.Aurora
		p.Aurora = &a
	}
	p.Notes = slices.Clone(p.Notes)
	return p
}

// Predictor is anything that turns an event into a physics Prediction.
// Model and CachedModel both satisfy it.
type Predictor interface {
	Predict(event domain.EventRecord) (Prediction, error)
}

// Model evaluates the drag, Dst and aurora models for an event.
type Model struct {
	params Params
}

// NewModel returns a Model using p.
func NewModel(p Params) *Model {
	return &Model{params: p}
}

// Params returns the calibration the model was built with.
func (m *Model) Params() Params {
	return m.params
}

// Predict runs the physical models for event. Missing solar-wind fields are
// filled from the ambient defaults and lower the confidence. A
// *ComputationError is returned when a model is undefined for the inputs;
// the partial prediction returned alongside it is informational only.
func (m *Model) Predict(event domain.EventRecord) (Prediction, error) {
	p := m.params
	wind, missing := m.resolveWind(event.SolarWind)

	pred := Prediction{
		EventID: event.ID,
		Wind:    wind,
	}
	if len(missing) > 0 {
		pred.Notes = append(pred.Notes, fmt.Sprintf("solar wind %v unavailable, ambient defaults used", missing))
	}

	arrivalSpeed := wind.Speed
	switch event.Kind {
	case domain.KindCME:
		drag, err := Propagate(event.Speed, wind.Speed, p.Drag)
		if err != nil {
			return pred, err
		}
		pred.TransitModel = TransitDrag
		pred.TransitHours = drag.TransitHours
		pred.Drag = &drag
		arrivalSpeed = drag.ArrivalSpeed
	case domain.KindFlare:
		pred.TransitModel = TransitLightTravel
		pred.TransitHours = AstronomicalUnitKm / LightSpeedKmS / 3600
	case domain.KindSEP:
		pred.TransitModel = TransitSEPOnset
		pred.TransitHours = p.SEPOnsetHours
	case domain.KindGeoStorm:
		pred.TransitModel = TransitInSitu
	default:
		return pred, computationErr("transit", "unsupported event kind %q", event.Kind)
	}

	// Coupling is evaluated for the disturbed wind at arrival, not the
	// pre-event ambient state.
	storm := wind
	if event.Kind == domain.KindCME {
		storm.Speed = math.Max(arrivalSpeed, wind.Speed)
		storm.Density = wind.Density * p.Dst.SheathCompression
	}
	aurora, err := EstimateAurora(storm, p.Aurora)
	if err != nil {
		return pred, err
	}
	pred.Aurora = &aurora

	if event.Kind == domain.KindCME || event.Kind == domain.KindGeoStorm {
		dst, err := IntegrateDst(StormProfile(pred.TransitHours, arrivalSpeed, wind, p.Dst), p.Dst)
		if err != nil {
			return pred, err
		}
		pred.Dst = &dst
	}

	pred.Confidence, pred.LowConfidence = m.confidence(event, len(missing) > 0)
	switch {
	case event.Kind != domain.KindCME:
	case !event.SourceKnown():
		pred.Notes = append(pred.Notes, "source geometry unresolved")
	case event.FarSide():
		pred.Notes = append(pred.Notes, "far-side source")
	}
	return pred, nil
}

func (m *Model) confidence(event domain.EventRecord, windMissing bool) (float64, bool) {
	c := m.params.Confidence
	conf := 1.0
	low := false
	if windMissing {
		conf *= c.MissingWindPenalty
		low = true
	}
	if event.Kind == domain.KindCME {
		switch {
		case !event.SourceKnown():
			conf *= c.UnknownSourcePenalty
			low = true
		case event.FarSide():
			conf *= c.FarSidePenalty
			low = true
		}
	}
	return conf, low || conf < c.LowConfidenceBelow
}

// resolveWind fills absent fields from the ambient defaults and returns the
// names of the fields that were missing. By and Bt are optional and never
// reported.
func (m *Model) resolveWind(sw *domain.SolarWind) (Wind, []string) {
	d := m.params.Ambient
	w := Wind{Speed: d.WindSpeed, Density: d.Density, Bz: d.Bz}
	var missing []string
	if sw == nil {
		return w, []string{"speed", "density", "bz"}
	}
	if sw.Speed != nil {
		w.Speed = *sw.Speed
	} else {
		missing = append(missing, "speed")
	}
	if sw.Density != nil {
		w.Density = *sw.Density
	} else {
		missing = append(missing, "density")
	}
	if sw.Bz != nil {
		w.Bz = *sw.Bz
	} else {
		missing = append(missing, "bz")
	}
	if sw.By != nil {
		w.By = *sw.By
	}
	if sw.Bt != nil {
		w.Bt = *sw.Bt
	}
	return w, missing
}

// PredictedKp returns the aurora Kp or zero when it was not computed.
func (p Prediction) PredictedKp() float64 {
	if p.Aurora == nil {
		return 0
	}
	return p.Aurora.Kp
}

// Summary extracts the fields carried on a published forecast.
func (p Prediction) Summary() *domain.PhysicsSummary {
	s := &domain.PhysicsSummary{LowConfidence: p.LowConfidence}
	if p.Aurora != nil {
		s.PredictedKp = p.Aurora.Kp
		s.AuroraBoundaryDeg = p.Aurora.BoundaryDeg
	}
	if p.Dst != nil {
		minDst := p.Dst.MinDst
		s.MinDst = &minDst
		s.StormClass = p.Dst.Class
	}
	return s
}
