package domain

import (
	"fmt"
	"strings"
)

// Severity is the five-level impact scale shared by every forecast source.
// Ordering is meaningful: a larger value is a more severe bucket.
type Severity int

const (
	SeverityMinimal Severity = iota
	SeverityLow
	SeverityModerate
	SeverityHigh
	SeverityExtreme
)

var severityNames = [...]string{"MINIMAL", "LOW", "MODERATE", "HIGH", "EXTREME"}

// Severities lists every bucket from least to most severe.
func Severities() []Severity {
	return []Severity{SeverityMinimal, SeverityLow, SeverityModerate, SeverityHigh, SeverityExtreme}
}

func (s Severity) String() string {
	if s < SeverityMinimal || s > SeverityExtreme {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the bucket by name so JSON payloads stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityMinimal || s > SeverityExtreme {
		return nil, fmt.Errorf("marshal severity: out of range value %d", int(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText decodes a bucket name, case-insensitively.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a bucket name such as "HIGH".
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityMinimal, fmt.Errorf("parse severity: unknown bucket %q", name)
}

// SeverityScale holds the monotone lower bounds of each bucket above MINIMAL.
// A score below Low is MINIMAL; a score at or above Extreme is EXTREME.
type SeverityScale struct {
	Low      float64 `mapstructure:"low"`
	Moderate float64 `mapstructure:"moderate"`
	High     float64 `mapstructure:"high"`
	Extreme  float64 `mapstructure:"extreme"`
}

// DefaultSeverityScale returns the calibrated bucket thresholds.
func DefaultSeverityScale() SeverityScale {
	return SeverityScale{Low: 0.20, Moderate: 0.40, High: 0.55, Extreme: 0.75}
}

// Validate checks that thresholds are strictly increasing within (0, 1].
func (sc SeverityScale) Validate() error {
	if !(sc.Low > 0 && sc.Low < sc.Moderate && sc.Moderate < sc.High && sc.High < sc.Extreme && sc.Extreme <= 1) {
		return fmt.Errorf("severity scale must satisfy 0 < low < moderate < high < extreme <= 1, got %+v", sc)
	}
	return nil
}

// Bucket maps a score onto the scale. It is a pure step function, so equal
// scores always yield equal buckets and a higher score never yields a lower one.
func (sc SeverityScale) Bucket(score float64) Severity {
	switch {
	case score >= sc.Extreme:
		return SeverityExtreme
	case score >= sc.High:
		return SeverityHigh
	case score >= sc.Moderate:
		return SeverityModerate
	case score >= sc.Low:
		return SeverityLow
	default:
		return SeverityMinimal
	}
}

// StormClass is the geomagnetic storm category derived from minimum Dst.
type StormClass string

const (
	StormQuiet    StormClass = "quiet"
	StormMinor    StormClass = "minor"
	StormModerate StormClass = "moderate"
	StormIntense  StormClass = "intense"
	StormExtreme  StormClass = "extreme"
)

// ClassifyDst buckets a minimum Dst value (nT) into a storm class.
func ClassifyDst(minDst float64) StormClass {
	switch {
	case minDst > -30:
		return StormQuiet
	case minDst > -50:
		return StormMinor
	case minDst > -100:
		return StormModerate
	case minDst > -250:
		return StormIntense
	default:
		return StormExtreme
	}
}

// Severity maps a storm class onto the shared forecast scale.
func (c StormClass) Severity() Severity {
	switch c {
	case StormMinor:
		return SeverityLow
	case StormModerate:
		return SeverityModerate
	case StormIntense:
		return SeverityHigh
	case StormExtreme:
		return SeverityExtreme
	default:
		return SeverityMinimal
	}
}

// SeverityForDst buckets an observed minimum Dst onto the forecast scale.
func SeverityForDst(minDst float64) Severity {
	return ClassifyDst(minDst).Severity()
}
