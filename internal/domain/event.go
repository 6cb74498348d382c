package domain

import (
	"context"
	"math"
	"time"
)

// Kind identifies the class of solar event.
type Kind string

const (
	KindCME      Kind = "CME"
	KindFlare    Kind = "FLARE"
	KindSEP      Kind = "SEP"
	KindGeoStorm Kind = "GEO_STORM"
)

// Valid reports whether k is one of the known event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCME, KindFlare, KindSEP, KindGeoStorm:
		return true
	default:
		return false
	}
}

// RawEvent represents an unprocessed message from the event topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// SolarWind is the upstream solar-wind context measured near L1.
// Every field is optional; nil means the collector had no reading.
type SolarWind struct {
	Speed   *float64 `json:"speed_km_s,omitempty"`
	Density *float64 `json:"density_cm3,omitempty"`
	Bz      *float64 `json:"bz_nt,omitempty"`
	By      *float64 `json:"by_nt,omitempty"`
	Bt      *float64 `json:"bt_nt,omitempty"`
}

// Complete reports whether the fields required by the coupling and Dst
// models (speed, density, Bz) are all present.
func (w *SolarWind) Complete() bool {
	return w != nil && w.Speed != nil && w.Density != nil && w.Bz != nil
}

// EventRecord is the immutable input to the forecasting engine.
type EventRecord struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Onset      time.Time  `json:"onset"`
	Speed      float64    `json:"speed_km_s,omitempty"`
	HalfWidth  float64    `json:"half_width_deg"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	FlareClass string     `json:"flare_class,omitempty"`
	SolarWind  *SolarWind `json:"solar_wind,omitempty"`
}

// SourceKnown reports whether both heliographic coordinates are present.
func (e EventRecord) SourceKnown() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// FarSide reports whether the source lies behind the limb or is unresolved.
func (e EventRecord) FarSide() bool {
	if !e.SourceKnown() {
		return true
	}
	return math.Abs(*e.Longitude) > 90
}

// DiskDistance returns the angular distance in degrees between the source
// and the centre of the visible disk. ok is false when the source is unknown.
func (e EventRecord) DiskDistance() (deg float64, ok bool) {
	if !e.SourceKnown() {
		return 0, false
	}
	lat := *e.Latitude * math.Pi / 180
	lon := *e.Longitude * math.Pi / 180
	c := math.Cos(lat) * math.Cos(lon)
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi, true
}

// Validate rejects records no model can use. It runs before any model.
func (e EventRecord) Validate() error {
	if !e.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown event kind " + string(e.Kind)}
	}
	if e.Onset.IsZero() {
		return &ValidationError{Field: "onset", Reason: "onset time is required"}
	}
	if isBad(e.Speed) || e.Speed < 0 {
		return &ValidationError{Field: "speed_km_s", Reason: "velocity must be a finite value >= 0"}
	}
	if e.Kind == KindCME && e.Speed == 0 {
		return &ValidationError{Field: "speed_km_s", Reason: "CME records require a velocity"}
	}
	if isBad(e.HalfWidth) || e.HalfWidth < 0 || e.HalfWidth > 180 {
		return &ValidationError{Field: "half_width_deg", Reason: "half-width must be within [0, 180]"}
	}
	if e.Latitude != nil && (isBad(*e.Latitude) || *e.Latitude < -90 || *e.Latitude > 90) {
		return &ValidationError{Field: "latitude", Reason: "latitude must be within [-90, 90]"}
	}
	if e.Longitude != nil && (isBad(*e.Longitude) || *e.Longitude < -180 || *e.Longitude > 180) {
		return &ValidationError{Field: "longitude", Reason: "longitude must be within [-180, 180]"}
	}
	if w := e.SolarWind; w != nil {
		for name, v := range map[string]*float64{
			"solar_wind.speed_km_s":  w.Speed,
			"solar_wind.density_cm3": w.Density,
			"solar_wind.bz_nt":       w.Bz,
			"solar_wind.by_nt":       w.By,
			"solar_wind.bt_nt":       w.Bt,
		} {
			if v != nil && isBad(*v) {
				return &ValidationError{Field: name, Reason: "must be a finite number"}
			}
		}
		if w.Speed != nil && *w.Speed < 0 {
			return &ValidationError{Field: "solar_wind.speed_km_s", Reason: "must be >= 0"}
		}
		if w.Bt != nil && *w.Bt < 0 {
			return &ValidationError{Field: "solar_wind.bt_nt", Reason: "must be >= 0"}
		}
	}
	return nil
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Float returns a pointer to v. Convenience for optional fields.
func Float(v float64) *float64 {
	return &v
}
