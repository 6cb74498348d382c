package physics

import "fmt"

const (
	// AstronomicalUnitKm is the mean Sun–Earth distance.
	AstronomicalUnitKm = 1.495978707e8
	// SolarRadiusKm is the nominal solar radius.
	SolarRadiusKm = 695700.0
	// LightSpeedKmS is the speed of light in vacuum.
	LightSpeedKmS = 299792.458
)

// Solver names accepted by DragParams.Solver.
const (
	SolverAnalytic = "analytic"
	SolverNumeric  = "numeric"
)

// Params groups every calibration constant used by the physical models.
// The fitted values are empirical; all of them can be overridden from the
// calibration file.
type Params struct {
	Drag       DragParams       `mapstructure:"drag"`
	Dst        DstParams        `mapstructure:"dst"`
	Aurora     AuroraParams     `mapstructure:"aurora"`
	Ambient    AmbientDefaults  `mapstructure:"ambient"`
	Confidence ConfidenceParams `mapstructure:"confidence"`
	// SEPOnsetHours is the assumed delay between an SEP-producing event and
	// the proton flux onset at Earth.
	SEPOnsetHours float64 `mapstructure:"sep_onset_hours"`
}

// DragParams configures the drag-based propagation model.
type DragParams struct {
	// Gamma is the drag parameter in km⁻¹.
	Gamma float64 `mapstructure:"gamma"`
	// StartHeightRs is the heliocentric distance where propagation starts.
	StartHeightRs float64 `mapstructure:"start_height_rs"`
	// AsymptoticFraction defines "effectively reached": |v − vw| ≤ f·|v0 − vw|.
	AsymptoticFraction float64 `mapstructure:"asymptotic_fraction"`
	MaxTransitHours    float64 `mapstructure:"max_transit_hours"`
	Solver             string  `mapstructure:"solver"`
	NumericStepSeconds float64 `mapstructure:"numeric_step_seconds"`
}

// DstParams configures the Burton-type ring-current integrator.
type DstParams struct {
	// InjectionRate is a in Q = a·(E − Ec), nT/h per mV/m (negative).
	InjectionRate float64 `mapstructure:"injection_rate"`
	// CriticalField is Ec in mV/m below which no injection occurs.
	CriticalField float64 `mapstructure:"critical_field"`
	DecayHours    float64 `mapstructure:"decay_hours"`
	// PressureGain scales injection with dynamic pressure above ReferencePressure.
	PressureGain      float64 `mapstructure:"pressure_gain"`
	ReferencePressure float64 `mapstructure:"reference_pressure"`
	Baseline          float64 `mapstructure:"baseline"`
	StepHours         float64 `mapstructure:"step_hours"`
	SampleEveryHours  float64 `mapstructure:"sample_every_hours"`
	EjectaHours       float64 `mapstructure:"ejecta_hours"`
	RecoveryHours     float64 `mapstructure:"recovery_hours"`
	SheathCompression float64 `mapstructure:"sheath_compression"`
}

// AuroraParams holds the two empirical regressions of the aurora estimator.
type AuroraParams struct {
	KpIntercept       float64 `mapstructure:"kp_intercept"`
	KpCoupling        float64 `mapstructure:"kp_coupling"`
	KpPressure        float64 `mapstructure:"kp_pressure"`
	BoundaryIntercept float64 `mapstructure:"boundary_intercept"`
	BoundarySlope     float64 `mapstructure:"boundary_slope"`
}

// AmbientDefaults replace missing solar-wind fields.
type AmbientDefaults struct {
	WindSpeed float64 `mapstructure:"wind_speed"`
	Density   float64 `mapstructure:"density"`
	Bz        float64 `mapstructure:"bz"`
}

// ConfidenceParams shape the heuristic model confidence.
type ConfidenceParams struct {
	MissingWindPenalty   float64 `mapstructure:"missing_wind_penalty"`
	UnknownSourcePenalty float64 `mapstructure:"unknown_source_penalty"`
	FarSidePenalty       float64 `mapstructure:"far_side_penalty"`
	LowConfidenceBelow   float64 `mapstructure:"low_confidence_below"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		Drag: DragParams{
			Gamma:              0.2e-7,
			StartHeightRs:      20,
			AsymptoticFraction: 0.05,
			MaxTransitHours:    240,
			Solver:             SolverAnalytic,
			NumericStepSeconds: 60,
		},
		Dst: DstParams{
			InjectionRate:     -4.4,
			CriticalField:     0.5,
			DecayHours:        7.7,
			PressureGain:      0.1,
			ReferencePressure: 2,
			Baseline:          0,
			StepHours:         0.25,
			SampleEveryHours:  1,
			EjectaHours:       24,
			RecoveryHours:     48,
			SheathCompression: 2,
		},
		Aurora: AuroraParams{
			KpIntercept:       0.05,
			KpCoupling:        2.244e-4,
			KpPressure:        2.844e-6,
			BoundaryIntercept: 66,
			BoundarySlope:     2,
		},
		Ambient: AmbientDefaults{
			WindSpeed: 250,
			Density:   5,
			Bz:        0,
		},
		Confidence: ConfidenceParams{
			MissingWindPenalty:   0.5,
			UnknownSourcePenalty: 0.6,
			FarSidePenalty:       0.5,
			LowConfidenceBelow:   0.5,
		},
		SEPOnsetHours: 1,
	}
}

// Validate rejects parameter sets the models cannot evaluate.
func (p Params) Validate() error {
	switch {
	case p.Drag.Solver != SolverAnalytic && p.Drag.Solver != SolverNumeric:
		return fmt.Errorf("physics.drag.solver must be %q or %q", SolverAnalytic, SolverNumeric)
	case p.Drag.Gamma <= 0:
		return fmt.Errorf("physics.drag.gamma must be positive")
	case p.Drag.MaxTransitHours <= 0:
		return fmt.Errorf("physics.drag.max_transit_hours must be positive")
	case p.Drag.AsymptoticFraction <= 0 || p.Drag.AsymptoticFraction >= 1:
		return fmt.Errorf("physics.drag.asymptotic_fraction must be within (0, 1)")
	case p.Drag.NumericStepSeconds <= 0:
		return fmt.Errorf("physics.drag.numeric_step_seconds must be positive")
	case p.Dst.DecayHours <= 0:
		return fmt.Errorf("physics.dst.decay_hours must be positive")
	case p.Dst.StepHours <= 0 || p.Dst.SampleEveryHours < p.Dst.StepHours:
		return fmt.Errorf("physics.dst.step_hours must be positive and not exceed sample_every_hours")
	case p.Dst.SheathCompression < 1:
		return fmt.Errorf("physics.dst.sheath_compression must be >= 1")
	case p.Ambient.WindSpeed <= 0 || p.Ambient.Density <= 0:
		return fmt.Errorf("physics.ambient wind speed and density must be positive")
	case p.SEPOnsetHours < 0:
		return fmt.Errorf("physics.sep_onset_hours must be >= 0")
	}
	for name, v := range map[string]float64{
		"missing_wind_penalty":   p.Confidence.MissingWindPenalty,
		"unknown_source_penalty": p.Confidence.UnknownSourcePenalty,
		"far_side_penalty":       p.Confidence.FarSidePenalty,
		"low_confidence_below":   p.Confidence.LowConfidenceBelow,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("physics.confidence.%s must be within [0, 1]", name)
		}
	}
	return nil
}
