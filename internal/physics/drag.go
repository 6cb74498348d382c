package physics

import "math"

const dragModel = "drag"

// DragResult is the outcome of propagating an ejection to 1 AU.
type DragResult struct {
	TransitHours float64 `json:"transit_hours"`
	// ArrivalSpeed is the ejection speed at 1 AU in km/s.
	ArrivalSpeed float64 `json:"arrival_speed_km_s"`
	// AsymptoticHeightRs is where the speed comes within AsymptoticFraction of
	// the ambient wind. Zero when drag is absent and the speed never converges.
	AsymptoticHeightRs float64 `json:"asymptotic_height_rs"`
	AsymptoticReached  bool    `json:"asymptotic_reached"`
	Solver             string  `json:"solver"`
}

// Propagate evaluates the drag-based model
//
//	v(t) = vw + (v0 − vw)·e^(−γ·vw·t)
//	r(t) = r0 + vw·t + (v0 − vw)/(γ·vw)·(1 − e^(−γ·vw·t))
//
// and returns the time at which r(t) reaches 1 AU. A launch speed at or below
// the ambient wind has no physical drag solution and is a ComputationError.
func Propagate(v0, vw float64, p DragParams) (DragResult, error) {
	switch {
	case isBad(v0) || isBad(vw):
		return DragResult{}, computationErr(dragModel, "non-finite input speed")
	case vw < 0:
		return DragResult{}, computationErr(dragModel, "negative ambient wind speed %.1f km/s", vw)
	case v0 <= vw:
		return DragResult{}, computationErr(dragModel, "launch speed %.1f km/s does not exceed ambient wind %.1f km/s", v0, vw)
	case isBad(p.Gamma) || p.Gamma <= 0:
		return DragResult{}, computationErr(dragModel, "non-positive drag parameter")
	}

	distance := AstronomicalUnitKm - p.StartHeightRs*SolarRadiusKm
	if distance <= 0 {
		return DragResult{}, computationErr(dragModel, "start height beyond 1 AU")
	}
	maxSeconds := p.MaxTransitHours * 3600
	k := p.Gamma * vw

	var (
		seconds float64
		err     error
	)
	switch p.Solver {
	case SolverNumeric:
		seconds, err = solveNumeric(v0, vw, k, distance, maxSeconds, p.NumericStepSeconds)
	default:
		seconds, err = solveAnalytic(v0, vw, k, distance, maxSeconds)
	}
	if err != nil {
		return DragResult{}, err
	}

	res := DragResult{
		TransitHours: seconds / 3600,
		ArrivalSpeed: speedAt(v0, vw, k, seconds),
		Solver:       p.Solver,
	}
	if res.Solver == "" {
		res.Solver = SolverAnalytic
	}
	if k > 0 {
		ta := math.Log(1/p.AsymptoticFraction) / k
		res.AsymptoticHeightRs = (p.StartHeightRs*SolarRadiusKm + distanceAt(v0, vw, k, ta)) / SolarRadiusKm
		res.AsymptoticReached = true
	}
	return res, nil
}

func speedAt(v0, vw, k, t float64) float64 {
	return vw + (v0-vw)*math.Exp(-k*t)
}

// distanceAt is r(t) − r0.
func distanceAt(v0, vw, k, t float64) float64 {
	if k == 0 {
		return v0 * t
	}
	return vw*t + (v0-vw)/k*(1-math.Exp(-k*t))
}

// solveAnalytic finds the root of r(t) − r0 − D with Newton iterations.
// The function is increasing and concave, so starting left of the root the
// iterates stay left and converge monotonically.
func solveAnalytic(v0, vw, k, distance, maxSeconds float64) (float64, error) {
	if k == 0 {
		t := distance / v0
		if t > maxSeconds {
			return 0, computationErr(dragModel, "transit exceeds %.0f h", maxSeconds/3600)
		}
		return t, nil
	}

	t := distance / v0
	for range 100 {
		f := distanceAt(v0, vw, k, t) - distance
		step := f / speedAt(v0, vw, k, t)
		t -= step
		if t > maxSeconds {
			return 0, computationErr(dragModel, "transit exceeds %.0f h", maxSeconds/3600)
		}
		if math.Abs(step) < 1e-3 {
			return t, nil
		}
	}
	return 0, computationErr(dragModel, "root solver did not converge")
}

// solveNumeric integrates dr/dt = v, dv/dt = −k·(v − vw) with fixed-step RK4
// and interpolates the crossing of D inside the last step.
func solveNumeric(v0, vw, k, distance, maxSeconds, h float64) (float64, error) {
	accel := func(v float64) float64 { return -k * (v - vw) }

	var r, t float64
	v := v0
	for t < maxSeconds {
		k1r, k1v := v, accel(v)
		k2r, k2v := v+0.5*h*k1v, accel(v+0.5*h*k1v)
		k3r, k3v := v+0.5*h*k2v, accel(v+0.5*h*k2v)
		k4r, k4v := v+h*k3v, accel(v+h*k3v)

		nr := r + h/6*(k1r+2*k2r+2*k3r+k4r)
		nv := v + h/6*(k1v+2*k2v+2*k3v+k4v)
		if nr >= distance {
			return t + h*(distance-r)/(nr-r), nil
		}
		r, v, t = nr, nv, t+h
	}
	return 0, computationErr(dragModel, "transit exceeds %.0f h", maxSeconds/3600)
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
