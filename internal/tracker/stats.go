package tracker

import (
	"maps"
	"slices"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// SourceStats summarises the validated history of one source.
type SourceStats struct {
	Source            string  `json:"source"`
	Outcomes          int     `json:"outcomes"`
	MeanAbsErrorHours float64 `json:"mean_abs_error_hours"`
	MeanBiasHours     float64 `json:"mean_bias_hours"`
	SeverityEvaluated int     `json:"severity_evaluated"`
	SeverityCorrect   int     `json:"severity_correct"`

	sumAbs, sumSigned float64
}

func (s *SourceStats) add(r domain.PerformanceRecord) {
	s.Outcomes++
	s.sumAbs += r.AbsoluteErrorHours
	s.sumSigned += r.SignedErrorHours
	s.MeanAbsErrorHours = s.sumAbs / float64(s.Outcomes)
	s.MeanBiasHours = s.sumSigned / float64(s.Outcomes)
	if r.SeverityEvaluated {
		s.SeverityEvaluated++
		if r.SeverityCorrect {
			s.SeverityCorrect++
		}
	}
}

// SeverityAccuracy is the fraction of evaluated severities that were right.
func (s SourceStats) SeverityAccuracy() float64 {
	if s.SeverityEvaluated == 0 {
		return 0
	}
	return float64(s.SeverityCorrect) / float64(s.SeverityEvaluated)
}

// Stats returns per-source accuracy over every outcome seen, sorted by
// source. Unlike Records it is not subject to retention.
func (t *Tracker) Stats() []SourceStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SourceStats, 0, len(t.stats))
	for _, k := range slices.Sorted(maps.Keys(t.stats)) {
		out = append(out, *t.stats[k])
	}
	return out
}
