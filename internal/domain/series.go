package domain

import (
	"fmt"
	"time"
)

// Variable is a forcing quantity in engine units
type Variable string

const (
	AirTemperature   Variable = "air_temperature"   // °C
	WindSpeed        Variable = "wind_speed"        // m/s
	WindDirection    Variable = "wind_direction"    // degrees
	SolarRadiation   Variable = "solar_radiation"   // W/m2
	VapourPressure   Variable = "vapour_pressure"   // mbar
	Precipitation    Variable = "precipitation"     // mm/h
	Discharge        Variable = "discharge"         // m3/s
	WaterTemperature Variable = "water_temperature" // °C
)

// MeteoVariables are mandatory for every run.
func MeteoVariables() []Variable {
	return []Variable{AirTemperature, WindSpeed, WindDirection, SolarRadiation, VapourPressure, Precipitation}
}

// HydroVariables are fetched for inflow bindings.
func HydroVariables() []Variable {
	return []Variable{Discharge, WaterTemperature}
}

// TimeRange is a half-open [Start, End) interval in UTC
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Hours returns the number of hourly steps covering the range.
func (r TimeRange) Hours() int {
	if !r.End.After(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start) / time.Hour)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s-%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// Sample is one timestamped value
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// ForcingTimeSeries is what a provider returned for one binding and variable.
// It may be partial or empty.
type ForcingTimeSeries struct {
	Variable         Variable       `json:"variable"`
	Binding          ForcingBinding `json:"binding"`
	Forecast         bool           `json:"forecast,omitempty"`
	StationElevation float64        `json:"station_elevation,omitempty"`
	Samples          []Sample       `json:"samples"`
}

// Empty reports whether the series carries no samples.
func (s ForcingTimeSeries) Empty() bool {
	return len(s.Samples) == 0
}
