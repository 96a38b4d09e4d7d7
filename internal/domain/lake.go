package domain

import (
	"fmt"
	"regexp"
	"time"
)

var (
	lakeKeyRegex     = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	bindingIDRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	bindingTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// DateLayout is the YYYYMMDD layout used for reference dates and date arguments.
const DateLayout = "20060102"

// ValidLakeKey reports whether key is usable as a lake identifier and directory name.
func ValidLakeKey(key string) bool {
	return lakeKeyRegex.MatchString(key)
}

// ForcingBinding names one external data source feeding a lake
type ForcingBinding struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type" json:"type"`
}

// Validate checks the binding is syntactically well-formed.
func (b ForcingBinding) Validate() error {
	if !bindingIDRegex.MatchString(b.ID) {
		return fmt.Errorf("invalid binding id %q", b.ID)
	}
	if !bindingTypeRegex.MatchString(b.Type) {
		return fmt.Errorf("invalid binding type %q for %q", b.Type, b.ID)
	}
	return nil
}

func (b ForcingBinding) String() string {
	return b.Type + ":" + b.ID
}

// ForecastBinding names the forecast product used to extend a run into the future
type ForecastBinding struct {
	Source      string `yaml:"source" json:"source"`
	Model       string `yaml:"model" json:"model"`
	HorizonDays int    `yaml:"days" json:"days"`
}

// Product returns the provider binding type for this forecast, e.g. "meteoswiss/icon".
func (f ForecastBinding) Product() string {
	return f.Source + "/" + f.Model
}

// Bathymetry is a depth/area profile, depth in metres, area in m2
type Bathymetry struct {
	Depth []float64 `yaml:"depth" json:"depth"`
	Area  []float64 `yaml:"area" json:"area"`
}

// LakeParameters is the static description of one simulated lake
type LakeParameters struct {
	Key                      string             `yaml:"key" json:"key"`
	Name                     string             `yaml:"name" json:"name"`
	Elevation                float64            `yaml:"elevation" json:"elevation"`
	SurfaceArea              float64            `yaml:"surface_area" json:"surface_area"`
	Volume                   float64            `yaml:"volume,omitempty" json:"volume,omitempty"`
	MaxDepth                 float64            `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
	MeanDepth                float64            `yaml:"mean_depth,omitempty" json:"mean_depth,omitempty"`
	MixingRegime             string             `yaml:"mixing_regime,omitempty" json:"mixing_regime,omitempty"`
	GeothermalFlux           float64            `yaml:"geothermal_flux,omitempty" json:"geothermal_flux,omitempty"`
	Latitude                 float64            `yaml:"latitude" json:"latitude"`
	Longitude                float64            `yaml:"longitude" json:"longitude"`
	SedimentOxygenUptakeRate float64            `yaml:"sediment_oxygen_uptake_rate,omitempty" json:"sediment_oxygen_uptake_rate,omitempty"`
	TrophicState             string             `yaml:"trophic_state" json:"trophic_state"`
	Bathymetry               *Bathymetry        `yaml:"bathymetry,omitempty" json:"bathymetry,omitempty"`
	ReferenceDate            string             `yaml:"reference_date,omitempty" json:"reference_date,omitempty"`
	ModelTimeResolution      int                `yaml:"model_time_resolution,omitempty" json:"model_time_resolution,omitempty"`
	OutputTimeResolution     int                `yaml:"output_time_resolution,omitempty" json:"output_time_resolution,omitempty"`
	GridResolution           float64            `yaml:"grid_resolution,omitempty" json:"grid_resolution,omitempty"`
	OutputDepthResolution    float64            `yaml:"output_depth_resolution,omitempty" json:"output_depth_resolution,omitempty"`
	Salinity                 float64            `yaml:"salinity,omitempty" json:"salinity,omitempty"`
	Absorption               float64            `yaml:"absorption,omitempty" json:"absorption,omitempty"`
	Coefficients             map[string]float64 `yaml:"coefficients,omitempty" json:"coefficients,omitempty"`
	Forcing                  []ForcingBinding   `yaml:"forcing" json:"forcing"`
	Inflows                  []ForcingBinding   `yaml:"inflows,omitempty" json:"inflows,omitempty"`
	Forecast                 *ForecastBinding   `yaml:"forcing_forecast,omitempty" json:"forcing_forecast,omitempty"`
}

// Lake defaults applied when the registry entry leaves a field unset.
const (
	DefaultReferenceDate        = "19810101"
	DefaultModelTimeResolution  = 300
	DefaultOutputTimeResolution = 10800
	DefaultSalinity             = 0.15
)

// WithDefaults returns a copy with unset model settings filled in.
func (l LakeParameters) WithDefaults() LakeParameters {
	if l.ReferenceDate == "" {
		l.ReferenceDate = DefaultReferenceDate
	}
	if l.ModelTimeResolution == 0 {
		l.ModelTimeResolution = DefaultModelTimeResolution
	}
	if l.OutputTimeResolution == 0 {
		l.OutputTimeResolution = DefaultOutputTimeResolution
	}
	if l.Salinity == 0 {
		l.Salinity = DefaultSalinity
	}
	return l
}

// Clone returns a deep copy sharing no maps, slices or pointers with l.
func (l LakeParameters) Clone() LakeParameters {
	c := l
	if l.Bathymetry != nil {
		c.Bathymetry = &Bathymetry{
			Depth: append([]float64(nil), l.Bathymetry.Depth...),
			Area:  append([]float64(nil), l.Bathymetry.Area...),
		}
	}
	if l.Coefficients != nil {
		c.Coefficients = make(map[string]float64, len(l.Coefficients))
		for k, v := range l.Coefficients {
			c.Coefficients[k] = v
		}
	}
	c.Forcing = append([]ForcingBinding(nil), l.Forcing...)
	c.Inflows = append([]ForcingBinding(nil), l.Inflows...)
	if l.Forecast != nil {
		f := *l.Forecast
		c.Forecast = &f
	}
	return c
}

// Reference parses ReferenceDate as a UTC midnight.
func (l LakeParameters) Reference() (time.Time, error) {
	ref := l.ReferenceDate
	if ref == "" {
		ref = DefaultReferenceDate
	}
	t, err := time.ParseInLocation(DateLayout, ref, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("lake %s: reference_date %q: %w", l.Key, ref, err)
	}
	return t, nil
}

// Bindings returns forcing and inflow bindings in declaration order.
func (l LakeParameters) Bindings() []ForcingBinding {
	out := make([]ForcingBinding, 0, len(l.Forcing)+len(l.Inflows))
	out = append(out, l.Forcing...)
	out = append(out, l.Inflows...)
	return out
}
