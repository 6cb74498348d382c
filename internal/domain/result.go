package domain

import "math"

// SourcePhysics is the source identifier of the Physical Model Library.
const SourcePhysics = "physics"

// SourceEnsemble identifies the combined forecast in performance records.
const SourceEnsemble = "ensemble"

// ResultStatus tags a SourceResult.
type ResultStatus int

const (
	// StatusUnavailable is the zero value so an uninitialised result is never
	// mistaken for a usable estimate.
	StatusUnavailable ResultStatus = iota
	StatusOK
)

func (s ResultStatus) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "unavailable"
}

// Estimate is the payload of a successful source.
type Estimate struct {
	TransitHours float64 `json:"transit_hours"`
	// SeverityScore is in [0,1] on the shared SeverityScale.
	SeverityScore float64 `json:"severity_score"`
	HasSeverity   bool    `json:"has_severity"`
	Confidence    float64 `json:"confidence"`
}

// SourceResult is the tagged output of one forecast source for one event:
// either Ok(estimate) or Unavailable(reason). Build it with Ok or Unavailable.
type SourceResult struct {
	Source   string       `json:"source"`
	Status   ResultStatus `json:"status"`
	Estimate Estimate     `json:"estimate"`
	Reason   string       `json:"reason,omitempty"`
}

// Ok builds a successful result.
func Ok(source string, est Estimate) SourceResult {
	return SourceResult{Source: source, Status: StatusOK, Estimate: est}
}

// Unavailable builds a failed or declined result.
func Unavailable(source, reason string) SourceResult {
	return SourceResult{Source: source, Status: StatusUnavailable, Reason: reason}
}

// Check normalises a result: an OK result with a non-finite or out-of-range
// payload is converted to Unavailable so it can never be silently combined.
func (r SourceResult) Check() SourceResult {
	if r.Status != StatusOK {
		if r.Status != StatusUnavailable {
			return Unavailable(r.Source, "malformed result status")
		}
		return r
	}
	e := r.Estimate
	switch {
	case isBad(e.TransitHours) || e.TransitHours < 0:
		return Unavailable(r.Source, "malformed estimate: transit time")
	case isBad(e.Confidence) || e.Confidence < 0 || e.Confidence > 1:
		return Unavailable(r.Source, "malformed estimate: confidence")
	case e.HasSeverity && (isBad(e.SeverityScore) || e.SeverityScore < 0 || e.SeverityScore > 1):
		return Unavailable(r.Source, "malformed estimate: severity score")
	}
	return r
}

// Clamp01 limits v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
