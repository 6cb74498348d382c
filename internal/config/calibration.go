package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/geoeffect"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	"github.com/spf13/viper"
)

// Calibration holds the tunable model constants. Every value has a default;
// a YAML file and CALIBRATION_* environment variables override them.
type Calibration struct {
	Physics   physics.Params        `mapstructure:"physics"`
	Geoeffect geoeffect.Params      `mapstructure:"geoeffect"`
	Ensemble  ensemble.Params       `mapstructure:"ensemble"`
	Impacts   ensemble.ImpactParams `mapstructure:"impacts"`
	Tracker   tracker.Params        `mapstructure:"tracker"`
	// InitialTrust is the weight of a source with no validated outcomes.
	InitialTrust float64 `mapstructure:"initial_trust"`
}

// DefaultCalibration returns the built-in constants.
func DefaultCalibration() Calibration {
	return Calibration{
		Physics:      physics.DefaultParams(),
		Geoeffect:    geoeffect.DefaultParams(),
		Ensemble:     ensemble.DefaultParams(),
		Impacts:      ensemble.DefaultImpactParams(),
		Tracker:      tracker.DefaultParams(),
		InitialTrust: 0.5,
	}
}

// LoadCalibration reads calibration constants. An empty path uses the
// defaults plus environment overrides, e.g. CALIBRATION_PHYSICS_DRAG_GAMMA.
func LoadCalibration(path string) (*Calibration, error) {
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(DefaultCalibration()))

	v.SetEnvPrefix("CALIBRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read calibration file: %w", err)
		}
	}

	var cal Calibration
	if err := v.Unmarshal(&cal); err != nil {
		return nil, fmt.Errorf("unmarshal calibration: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}
	return &cal, nil
}

// setDefaults registers every leaf of the default calibration under its
// dotted mapstructure key so environment overrides resolve for all of them.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := range rt.NumField() {
		tag := rt.Field(i).Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f := rv.Field(i); f.Kind() == reflect.Struct {
			setDefaults(v, key, f)
		} else {
			v.SetDefault(key, f.Interface())
		}
	}
}

// Validate checks every parameter group.
func (c *Calibration) Validate() error {
	if err := c.Physics.Validate(); err != nil {
		return err
	}
	if err := c.Geoeffect.Validate(); err != nil {
		return err
	}
	if err := c.Ensemble.Validate(); err != nil {
		return err
	}
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if c.InitialTrust <= 0 || c.InitialTrust > 1 {
		return fmt.Errorf("initial_trust must be within (0, 1]")
	}
	return nil
}
