// Package ensemble combines physics and learned estimates into a single
// forecast and owns the trust registry that weights them.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// ErrNoPredictorsAvailable is returned when no source produced a usable
// estimate. No forecast may be published in that case.
var ErrNoPredictorsAvailable = errors.New("no predictors available")

// Reasons recorded for sources excluded by the combiner itself.
const (
	ReasonDegraded   = "degraded"
	ReasonZeroWeight = "zero weight"
)

// Params configures interval width and the agreement factor.
type Params struct {
	// Z is the normal quantile of the reported interval (1.645 → 90%).
	Z float64 `mapstructure:"z"`
	// BaseSigmaHours is added in quadrature to the inter-source spread so a
	// single source never yields a zero-width interval.
	BaseSigmaHours float64 `mapstructure:"base_sigma_hours"`
	// AgreementScaleHours is the spread at which agreement halves.
	AgreementScaleHours float64 `mapstructure:"agreement_scale_hours"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{Z: 1.645, BaseSigmaHours: 8, AgreementScaleHours: 12}
}

// Validate rejects non-positive widths.
func (p Params) Validate() error {
	if p.Z <= 0 || p.BaseSigmaHours < 0 || p.AgreementScaleHours <= 0 {
		return fmt.Errorf("ensemble params: z and agreement scale must be positive, base sigma non-negative")
	}
	return nil
}

// SeverityVote is the classifier's severity opinion. It votes with the
// physics trust weight scaled by its own confidence.
type SeverityVote struct {
	Score             float64
	Severity          domain.Severity
	ImpactProbability float64
	Confidence        float64
}

// Input is everything the combiner needs for one event.
type Input struct {
	// Results holds one entry per attempted source, available or not.
	Results []domain.SourceResult
	// Expected is the number of sources that should have contributed.
	Expected   int
	Classifier *SeverityVote
	Trust      *Snapshot
}

// Combination is the combiner output.
type Combination struct {
	TransitHours      float64
	TransitLowerHours float64
	TransitUpperHours float64
	VarianceHours2    float64
	Agreement         float64
	Coverage          float64
	Confidence        float64
	Severity          domain.Severity
	ImpactProbability float64
	Contributions     []domain.Contribution
	Unavailable       []domain.SourceStatus
	TrustVersion      uint64
}

// Combiner merges source results using trust-weighted statistics.
type Combiner struct {
	params Params
	scale  domain.SeverityScale
}

// NewCombiner returns a Combiner. scale maps learned severity scores onto
// buckets and must be the classifier's scale.
func NewCombiner(p Params, scale domain.SeverityScale) *Combiner {
	return &Combiner{params: p, scale: scale}
}

// Combine computes the weighted mean and variance of the valid transit
// estimates, the agreement-based confidence and the severity vote.
// It returns ErrNoPredictorsAvailable when nothing contributed.
func (c *Combiner) Combine(in Input) (Combination, error) {
	trust := in.Trust
	if trust == nil {
		trust = &Snapshot{Weights: map[string]TrustWeight{}}
	}
	out := Combination{TrustVersion: trust.Version}

	results := slices.Clone(in.Results)
	slices.SortStableFunc(results, func(a, b domain.SourceResult) int { return strings.Compare(a.Source, b.Source) })

	type valid struct {
		res    domain.SourceResult
		trust  float64
		weight float64
	}
	var used []valid
	var total float64
	for _, r := range results {
		r = r.Check()
		if r.Status != domain.StatusOK {
			out.Unavailable = append(out.Unavailable, domain.SourceStatus{Source: r.Source, Reason: r.Reason})
			continue
		}
		tw := trust.Weight(r.Source)
		if tw.Degraded {
			out.Unavailable = append(out.Unavailable, domain.SourceStatus{Source: r.Source, Reason: ReasonDegraded})
			continue
		}
		w := tw.Weight * r.Estimate.Confidence
		if w <= 0 {
			out.Unavailable = append(out.Unavailable, domain.SourceStatus{Source: r.Source, Reason: ReasonZeroWeight})
			continue
		}
		used = append(used, valid{res: r, trust: tw.Weight, weight: w})
		total += w
	}
	if len(used) == 0 {
		return out, ErrNoPredictorsAvailable
	}

	var mean float64
	for _, v := range used {
		mean += v.weight / total * v.res.Estimate.TransitHours
	}
	// Bound against rounding so the mean stays inside the estimate range.
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range used {
		lo = math.Min(lo, v.res.Estimate.TransitHours)
		hi = math.Max(hi, v.res.Estimate.TransitHours)
	}
	mean = math.Max(lo, math.Min(hi, mean))

	var variance float64
	for _, v := range used {
		d := v.res.Estimate.TransitHours - mean
		variance += v.weight / total * d * d
	}

	p := c.params
	sigma := math.Sqrt(variance + p.BaseSigmaHours*p.BaseSigmaHours)
	out.TransitHours = mean
	out.TransitLowerHours = math.Max(0, mean-p.Z*sigma)
	out.TransitUpperHours = mean + p.Z*sigma
	out.VarianceHours2 = variance

	expected := max(in.Expected, len(used))
	out.Agreement = 1 / (1 + variance/(p.AgreementScaleHours*p.AgreementScaleHours))
	out.Coverage = float64(len(used)) / float64(expected)
	out.Confidence = domain.Clamp01(out.Agreement * out.Coverage)

	votes := map[domain.Severity]float64{}
	if cv := in.Classifier; cv != nil {
		out.ImpactProbability = cv.ImpactProbability
		if pt := trust.Weight(domain.SourcePhysics); !pt.Degraded {
			votes[cv.Severity] += pt.Weight * cv.Confidence
		}
	}

	for _, v := range used {
		contrib := domain.Contribution{
			Source:       v.res.Source,
			Weight:       v.weight / total,
			TrustWeight:  v.trust,
			Confidence:   v.res.Estimate.Confidence,
			TransitHours: v.res.Estimate.TransitHours,
		}
		switch {
		case v.res.Source == domain.SourcePhysics && in.Classifier != nil:
			contrib.Severity, contrib.HasSeverity = in.Classifier.Severity, true
		case v.res.Estimate.HasSeverity:
			contrib.Severity, contrib.HasSeverity = c.scale.Bucket(v.res.Estimate.SeverityScore), true
			votes[contrib.Severity] += v.weight
		}
		out.Contributions = append(out.Contributions, contrib)
	}

	out.Severity = c.resolveSeverity(votes, in.Classifier)
	return out, nil
}

// resolveSeverity picks the bucket with the most vote weight. Buckets are
// visited from most to least severe and only a strictly larger weight wins,
// so ties resolve toward the more severe bucket.
func (c *Combiner) resolveSeverity(votes map[domain.Severity]float64, cv *SeverityVote) domain.Severity {
	best, bestWeight := domain.SeverityMinimal, 0.0
	found := false
	sevs := domain.Severities()
	for i := len(sevs) - 1; i >= 0; i-- {
		if w := votes[sevs[i]]; w > bestWeight {
			best, bestWeight, found = sevs[i], w, true
		}
	}
	if !found && cv != nil {
		return cv.Severity
	}
	return best
}
