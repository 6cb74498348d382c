package ensemble

import (
	"strings"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// ImpactParams are the thresholds that turn a forecast into impact tags.
type ImpactParams struct {
	MidLatitudeBoundaryDeg float64 `mapstructure:"midlatitude_boundary_deg"`
	HighLatitudeKp         float64 `mapstructure:"highlatitude_kp"`
	NavigationKp           float64 `mapstructure:"navigation_kp"`
	SatelliteDragKp        float64 `mapstructure:"satellite_drag_kp"`
	PowerGridDst           float64 `mapstructure:"power_grid_dst"`
}

// DefaultImpactParams returns the default thresholds.
func DefaultImpactParams() ImpactParams {
	return ImpactParams{
		MidLatitudeBoundaryDeg: 55,
		HighLatitudeKp:         4,
		NavigationKp:           7,
		SatelliteDragKp:        6,
		PowerGridDst:           -250,
	}
}

// Impacts derives the impact tags for a forecast. Output order is fixed.
func Impacts(event domain.EventRecord, severity domain.Severity, physics *domain.PhysicsSummary, p ImpactParams) []domain.Impact {
	var kp, boundary float64 = 0, 90
	var minDst *float64
	if physics != nil {
		kp, boundary, minDst = physics.PredictedKp, physics.AuroraBoundaryDeg, physics.MinDst
	}

	impacts := []domain.Impact{}
	if physics != nil && boundary <= p.MidLatitudeBoundaryDeg {
		impacts = append(impacts, domain.ImpactAuroraMidLatitude)
	}
	if kp >= p.HighLatitudeKp {
		impacts = append(impacts, domain.ImpactAuroraHighLatitude)
	}
	if majorFlare(event) || severity >= domain.SeverityModerate {
		impacts = append(impacts, domain.ImpactRadioDisruption)
	}
	if severity >= domain.SeverityHigh || kp >= p.NavigationKp {
		impacts = append(impacts, domain.ImpactNavigationJitter)
	}
	if kp >= p.SatelliteDragKp {
		impacts = append(impacts, domain.ImpactSatelliteDrag)
	}
	if severity == domain.SeverityExtreme || (minDst != nil && *minDst <= p.PowerGridDst) {
		impacts = append(impacts, domain.ImpactPowerGridStress)
	}
	if event.Kind == domain.KindSEP {
		impacts = append(impacts, domain.ImpactRadiationStorm)
	}
	return impacts
}

func majorFlare(event domain.EventRecord) bool {
	if event.Kind != domain.KindFlare {
		return false
	}
	c := strings.ToUpper(event.FlareClass)
	return strings.HasPrefix(c, "M") || strings.HasPrefix(c, "X")
}
