package domain

import "time"

// Impact is a domain-specific consequence tag attached to a forecast.
type Impact string

const (
	ImpactAuroraMidLatitude  Impact = "aurora_midlatitude"
	ImpactAuroraHighLatitude Impact = "aurora_highlatitude"
	ImpactRadioDisruption    Impact = "radio_disruption"
	ImpactNavigationJitter   Impact = "navigation_jitter"
	ImpactSatelliteDrag      Impact = "satellite_drag"
	ImpactPowerGridStress    Impact = "power_grid_stress"
	ImpactRadiationStorm     Impact = "radiation_storm"
)

// Contribution records how much one source weighed in a forecast.
type Contribution struct {
	Source       string   `json:"source"`
	Weight       float64  `json:"weight"`
	TrustWeight  float64  `json:"trust_weight"`
	Confidence   float64  `json:"confidence"`
	TransitHours float64  `json:"transit_hours"`
	Severity     Severity `json:"severity"`
	HasSeverity  bool     `json:"has_severity"`
}

// SourceStatus records a source that did not contribute and why.
type SourceStatus struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// PhysicsSummary carries the physics outputs referenced by impacts.
type PhysicsSummary struct {
	PredictedKp       float64    `json:"predicted_kp"`
	AuroraBoundaryDeg float64    `json:"aurora_boundary_deg"`
	MinDst            *float64   `json:"min_dst_nt,omitempty"`
	StormClass        StormClass `json:"storm_class,omitempty"`
	LowConfidence     bool       `json:"low_confidence"`
}

// Forecast is the published ensemble forecast. It is never mutated after
// creation; a revision is a new Forecast whose Supersedes names the prior ID.
type Forecast struct {
	ID         string `json:"id"`
	Version    int    `json:"version"`
	Supersedes string `json:"supersedes,omitempty"`

	EventID   string      `json:"event_id"`
	EventKind Kind        `json:"event_kind"`
	Event     EventRecord `json:"event"`

	TransitHours      float64   `json:"transit_hours"`
	TransitLowerHours float64   `json:"transit_lower_hours"`
	TransitUpperHours float64   `json:"transit_upper_hours"`
	ArrivalEarliest   time.Time `json:"arrival_earliest"`
	ArrivalExpected   time.Time `json:"arrival_expected"`
	ArrivalLatest     time.Time `json:"arrival_latest"`

	Severity          Severity `json:"severity"`
	ImpactProbability float64  `json:"impact_probability"`
	Impacts           []Impact `json:"impacts"`

	Confidence      float64 `json:"confidence"`
	AgreementFactor float64 `json:"agreement_factor"`
	Coverage        float64 `json:"coverage"`

	Contributions []Contribution  `json:"contributions"`
	Unavailable   []SourceStatus  `json:"unavailable,omitempty"`
	Physics       *PhysicsSummary `json:"physics,omitempty"`
	TrustVersion  uint64          `json:"trust_version"`

	CreatedAt time.Time `json:"created_at"`
}

// Contribution returns the named source's contribution, if any.
func (f Forecast) Contribution(source string) (Contribution, bool) {
	for _, c := range f.Contributions {
		if c.Source == source {
			return c, true
		}
	}
	return Contribution{}, false
}

// Outcome is the ground truth delivered by the external validation
// collaborator, possibly days after publication.
type Outcome struct {
	ForecastID    string    `json:"forecast_id"`
	ActualArrival time.Time `json:"actual_arrival"`
	MinDst        *float64  `json:"min_dst_nt,omitempty"`
}

// PerformanceRecord pairs one forecast (or one of its sources) with an
// observed outcome. Records are append-only.
type PerformanceRecord struct {
	ForecastID         string    `json:"forecast_id"`
	Source             string    `json:"source"`
	PredictedArrival   time.Time `json:"predicted_arrival"`
	ActualArrival      time.Time `json:"actual_arrival"`
	SignedErrorHours   float64   `json:"signed_error_hours"`
	AbsoluteErrorHours float64   `json:"absolute_error_hours"`
	SeverityEvaluated  bool      `json:"severity_evaluated"`
	SeverityCorrect    bool      `json:"severity_correct"`
	ValidatedAt        time.Time `json:"validated_at"`
}
