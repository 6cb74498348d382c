package physics

import "math"

const auroraModel = "aurora"

// Wind is a fully resolved solar-wind state. Bt may be zero, in which case
// the field magnitude is derived from By and Bz.
type Wind struct {
	Speed   float64 `json:"speed_km_s"`
	Density float64 `json:"density_cm3"`
	Bz      float64 `json:"bz_nt"`
	By      float64 `json:"by_nt"`
	Bt      float64 `json:"bt_nt"`
}

// AuroraResult is the output of the aurora estimator.
type AuroraResult struct {
	ClockAngleDeg float64 `json:"clock_angle_deg"`
	Coupling      float64 `json:"coupling"`
	Kp            float64 `json:"kp"`
	// BoundaryDeg is the equatorward auroral boundary in magnetic latitude.
	BoundaryDeg float64 `json:"boundary_deg"`
}

// NewellCoupling returns v^(4/3)·Bt^(2/3)·sin^(8/3)(θ/2) and the clock angle
// θ in degrees. Northward field (θ = 0) gives zero coupling.
func NewellCoupling(w Wind) (coupling, clockDeg float64) {
	bt := w.Bt
	if bt == 0 {
		bt = math.Hypot(w.By, w.Bz)
	}
	theta := math.Atan2(w.By, w.Bz)
	s := math.Abs(math.Sin(theta / 2))
	coupling = math.Pow(w.Speed, 4.0/3) * math.Pow(bt, 2.0/3) * math.Pow(s, 8.0/3)
	return coupling, theta * 180 / math.Pi
}

// EstimateAurora maps the coupling function and dynamic pressure to a Kp
// estimate in [0, 9] and the equatorward boundary of the auroral oval.
func EstimateAurora(w Wind, p AuroraParams) (AuroraResult, error) {
	switch {
	case isBad(w.Speed) || isBad(w.Density) || isBad(w.Bz) || isBad(w.By) || isBad(w.Bt):
		return AuroraResult{}, computationErr(auroraModel, "non-finite wind state")
	case w.Speed < 0 || w.Density < 0 || w.Bt < 0:
		return AuroraResult{}, computationErr(auroraModel, "negative wind quantity")
	}

	coupling, clock := NewellCoupling(w)
	kp := p.KpIntercept + p.KpCoupling*coupling + p.KpPressure*math.Sqrt(w.Density)*w.Speed*w.Speed
	kp = math.Max(0, math.Min(9, kp))

	return AuroraResult{
		ClockAngleDeg: clock,
		Coupling:      coupling,
		Kp:            kp,
		BoundaryDeg:   p.BoundaryIntercept - p.BoundarySlope*kp,
	}, nil
}
