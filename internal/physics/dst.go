package physics

import (
	"math"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

const dstModel = "dst"

// pressureFactor converts n[cm⁻³]·v²[km²/s²] to nanopascals for protons.
const pressureFactor = 1.6726e-6

// WindSample is the upstream solar wind from Hours onward until the next
// sample. Bz is in GSM coordinates; negative is southward.
type WindSample struct {
	Hours   float64 `json:"hours"`
	Speed   float64 `json:"speed_km_s"`
	Density float64 `json:"density_cm3"`
	Bz      float64 `json:"bz_nt"`
}

// DstPoint is one sample of the integrated index.
type DstPoint struct {
	Hours float64 `json:"hours"`
	Dst   float64 `json:"dst_nt"`
}

// DstResult is the integrated Dst time series and its summary.
type DstResult struct {
	Series     []DstPoint        `json:"series"`
	MinDst     float64           `json:"min_dst_nt"`
	MinAtHours float64           `json:"min_at_hours"`
	Class      domain.StormClass `json:"storm_class"`
}

// DynamicPressure returns the solar-wind ram pressure in nPa.
func DynamicPressure(density, speed float64) float64 {
	return pressureFactor * density * speed * speed
}

// IntegrateDst integrates dDst/dt = Q(t) − (Dst − Dst0)/τ with fixed-step
// RK4 over [samples[0].Hours, samples[last].Hours]. Samples must be in
// increasing time order with positive speed and density.
func IntegrateDst(samples []WindSample, p DstParams) (DstResult, error) {
	if len(samples) < 2 {
		return DstResult{}, computationErr(dstModel, "need at least two wind samples")
	}
	for i, s := range samples {
		if isBad(s.Speed) || isBad(s.Density) || isBad(s.Bz) || isBad(s.Hours) {
			return DstResult{}, computationErr(dstModel, "non-finite wind sample at %.2f h", s.Hours)
		}
		if s.Speed <= 0 {
			return DstResult{}, computationErr(dstModel, "non-positive wind speed at %.2f h", s.Hours)
		}
		if s.Density <= 0 {
			return DstResult{}, computationErr(dstModel, "non-positive density at %.2f h: dynamic pressure undefined", s.Hours)
		}
		if i > 0 && s.Hours <= samples[i-1].Hours {
			return DstResult{}, computationErr(dstModel, "wind samples out of order at %.2f h", s.Hours)
		}
	}

	injection := func(t float64) float64 {
		return injectionRate(sampleAt(samples, t), p)
	}
	deriv := func(t, dst float64) float64 {
		return injection(t) - (dst-p.Baseline)/p.DecayHours
	}

	start, end := samples[0].Hours, samples[len(samples)-1].Hours
	h := p.StepHours
	every := int(math.Round(p.SampleEveryHours / h))
	if every < 1 {
		every = 1
	}

	dst := p.Baseline
	res := DstResult{MinDst: dst, MinAtHours: start}
	res.Series = append(res.Series, DstPoint{Hours: start, Dst: dst})

	steps := int(math.Ceil((end - start) / h))
	for i := 1; i <= steps; i++ {
		t := start + float64(i-1)*h
		k1 := deriv(t, dst)
		k2 := deriv(t+h/2, dst+h/2*k1)
		k3 := deriv(t+h/2, dst+h/2*k2)
		k4 := deriv(t+h, dst+h*k3)
		dst += h / 6 * (k1 + 2*k2 + 2*k3 + k4)

		now := start + float64(i)*h
		if dst < res.MinDst {
			res.MinDst, res.MinAtHours = dst, now
		}
		if i%every == 0 || i == steps {
			res.Series = append(res.Series, DstPoint{Hours: now, Dst: dst})
		}
	}
	res.Class = domain.ClassifyDst(res.MinDst)
	return res, nil
}

// injectionRate is the ring-current source term in nT/h. It is zero while
// the dawn–dusk electric field stays below the critical value.
func injectionRate(s WindSample, p DstParams) float64 {
	bs := math.Max(0, -s.Bz)
	ey := s.Speed * bs * 1e-3
	if ey <= p.CriticalField {
		return 0
	}
	q := p.InjectionRate * (ey - p.CriticalField)
	excess := math.Sqrt(DynamicPressure(s.Density, s.Speed)) - math.Sqrt(p.ReferencePressure)
	return q * (1 + p.PressureGain*math.Max(0, excess))
}

// sampleAt returns the sample in effect at t (piecewise constant).
func sampleAt(samples []WindSample, t float64) WindSample {
	cur := samples[0]
	for _, s := range samples[1:] {
		if s.Hours > t {
			break
		}
		cur = s
	}
	return cur
}

// StormProfile builds the upstream wind series seen at Earth for a plasma
// cloud arriving after arrivalHours: quiet ambient wind, then a compressed
// ejecta interval carrying the measured field, then recovery.
func StormProfile(arrivalHours, arrivalSpeed float64, w Wind, p DstParams) []WindSample {
	quiet := WindSample{Speed: w.Speed, Density: w.Density}
	storm := WindSample{
		Hours:   arrivalHours,
		Speed:   math.Max(arrivalSpeed, w.Speed),
		Density: w.Density * p.SheathCompression,
		Bz:      w.Bz,
	}
	recovery := quiet
	recovery.Hours = arrivalHours + p.EjectaHours
	end := quiet
	end.Hours = recovery.Hours + p.RecoveryHours

	if arrivalHours <= 0 {
		storm.Hours = 0
		return []WindSample{storm, recovery, end}
	}
	return []WindSample{quiet, storm, recovery, end}
}
