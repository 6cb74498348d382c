package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// sourceLocationRe matches heliographic location codes such as "N03E59" or
// "S12W100". Latitude comes first, then longitude.
var sourceLocationRe = regexp.MustCompile(`^([NS])(\d{1,2})([EW])(\d{1,3})$`)

// RawEventRecord is the flat JSON structure produced by the collector.
// Location may arrive as numeric coordinates, as a location code, or not at all.
type RawEventRecord struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Onset          string     `json:"onset"`
	Speed          *float64   `json:"speed"`
	HalfAngle      *float64   `json:"half_angle"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	SourceLocation string     `json:"source_location"`
	FlareClass     string     `json:"flare_class"`
	SolarWind      *SolarWind `json:"solar_wind"`
}

// ParseRawEvent deserializes a RawEvent's value into a validated EventRecord.
// Records without an ID get a deterministic one derived from their key fields.
func ParseRawEvent(raw RawEvent) (EventRecord, error) {
	var rec RawEventRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return EventRecord{}, fmt.Errorf("parse raw event: %w", err)
	}

	onset, err := parseOnset(rec.Onset, raw.Timestamp)
	if err != nil {
		return EventRecord{}, fmt.Errorf("parse raw event: %w", err)
	}

	event := EventRecord{
		ID:         strings.TrimSpace(rec.ID),
		Kind:       Kind(strings.ToUpper(strings.TrimSpace(rec.Kind))),
		Onset:      onset,
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		FlareClass: strings.ToUpper(strings.TrimSpace(rec.FlareClass)),
		SolarWind:  rec.SolarWind,
	}
	if rec.Speed != nil {
		event.Speed = *rec.Speed
	}
	if rec.HalfAngle != nil {
		event.HalfWidth = *rec.HalfAngle
	}

	if code := strings.TrimSpace(rec.SourceLocation); code != "" && !event.SourceKnown() {
		lat, lon, err := ParseSourceLocation(code)
		if err != nil {
			return EventRecord{}, fmt.Errorf("parse raw event: %w", err)
		}
		event.Latitude = &lat
		event.Longitude = &lon
	}

	if event.ID == "" {
		event.ID = generateID(event)
	}

	if err := event.Validate(); err != nil {
		return EventRecord{}, err
	}
	return event, nil
}

// ParseSourceLocation converts a heliographic location code like "N03E59"
// into latitude and longitude in degrees. East is negative.
func ParseSourceLocation(code string) (lat, lon float64, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	m := sourceLocationRe.FindStringSubmatch(code)
	if len(m) != 5 {
		return 0, 0, fmt.Errorf("invalid source location %q", code)
	}
	lat, _ = strconv.ParseFloat(m[2], 64)
	lon, _ = strconv.ParseFloat(m[4], 64)
	if m[1] == "S" {
		lat = -lat
	}
	if m[3] == "E" {
		lon = -lon
	}
	if lat > 90 || lon > 180 || lon < -180 {
		return 0, 0, fmt.Errorf("invalid source location %q: out of range", code)
	}
	return lat, lon, nil
}

// parseOnset accepts RFC 3339 timestamps and falls back to the message time.
func parseOnset(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid onset time %q", value)
}

// generateID produces a deterministic ID from the fields that identify an
// event rather than measure it, so a revised record with refined speed or
// width keeps the ID of the record it revises.
func generateID(e EventRecord) string {
	loc := "unknown"
	if e.SourceKnown() {
		loc = fmt.Sprintf("%.2f,%.2f", *e.Latitude, *e.Longitude)
	}
	input := fmt.Sprintf("%s|%s|%s", e.Kind, e.Onset.UTC().Format(time.RFC3339), loc)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if e.Kind == "" {
		return short
	}
	return strings.ToLower(string(e.Kind)) + "-" + short
}

// Fingerprint returns a stable hash of every field that influences a model
// evaluation. Two records with the same fingerprint produce identical physics.
func Fingerprint(e EventRecord) string {
	data, _ := json.Marshal(e) //nolint:errchkjson // EventRecord has no unmarshalable fields
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// ParseOutcome decodes an outcome feedback message. The actual arrival is
// required; the observed minimum Dst is optional.
func ParseOutcome(raw RawEvent) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(raw.Value, &o); err != nil {
		return Outcome{}, fmt.Errorf("parse outcome: %w", err)
	}
	o.ForecastID = strings.TrimSpace(o.ForecastID)
	if o.ForecastID == "" {
		return Outcome{}, &ValidationError{Field: "forecast_id", Reason: "forecast id is required"}
	}
	if o.ActualArrival.IsZero() {
		return Outcome{}, &ValidationError{Field: "actual_arrival", Reason: "actual arrival time is required"}
	}
	if o.MinDst != nil && isBad(*o.MinDst) {
		return Outcome{}, &ValidationError{Field: "min_dst_nt", Reason: "must be a finite number"}
	}
	o.ActualArrival = o.ActualArrival.UTC()
	return o, nil
}
