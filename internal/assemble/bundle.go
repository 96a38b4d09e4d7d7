package assemble

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// ForcingTable holds the gap-free hourly meteorological forcing in engine
// units.
type ForcingTable struct {
	Times          []time.Time
	U              []float64 // m/s, west to east
	V              []float64 // m/s, south to north
	AirTemperature []float64 // °C at lake altitude
	SolarRadiation []float64 // W/m2
	VapourPressure []float64 // mbar
	Cloud          []float64 // 0..1
	Rain           []float64 // m/h
}

// Len returns the number of hourly rows.
func (f ForcingTable) Len() int {
	return len(f.Times)
}

// Inflow is one river input on the same hourly grid
type Inflow struct {
	Binding     domain.ForcingBinding
	Discharge   []float64 // m3/s
	Temperature []float64 // °C
	Salinity    []float64 // ppt
}

// Profile is an initial depth profile
type Profile struct {
	Depth       []float64 `json:"depth"`
	Temperature []float64 `json:"temperature"`
	Salinity    []float64 `json:"salinity"`
}

// Settings are the per-run engine settings derived from lake parameters
// and the resolved arguments.
type Settings struct {
	ReferenceDate         time.Time          `json:"reference_date"`
	Bathymetry            domain.Bathymetry  `json:"bathymetry"`
	MaxDepth              float64            `json:"max_depth"`
	GridResolution        float64            `json:"grid_resolution"`
	GridCells             int                `json:"grid_cells"`
	OutputDepthResolution float64            `json:"output_depth_resolution"`
	OutputDepths          []float64          `json:"output_depths"`
	ModelTimeResolution   int                `json:"model_time_resolution"`
	OutputTimeSteps       int                `json:"output_time_steps"`
	InitialConditions     Profile            `json:"initial_conditions"`
	Absorption            float64            `json:"absorption"`
	AirPressure           float64            `json:"air_pressure"`
	SeicheCoefficient     float64            `json:"seiche_coefficient"`
	InflowMode            int                `json:"inflow_mode"`
	CoupleAED2            bool               `json:"couple_aed2"`
	EngineVersion         string             `json:"engine_version"`
	ModelParameters       map[string]float64 `json:"model_parameters"`
}

// Coverage records where the hourly values of one variable came from
type Coverage struct {
	Primary      string `json:"primary,omitempty"`
	Observed     int    `json:"observed"`
	Forecast     int    `json:"forecast"`
	Interpolated int    `json:"interpolated"`
}

// InputBundle is everything one engine run needs. It is not modified
// after Assemble returns.
type InputBundle struct {
	Lake          domain.LakeParameters
	Range         domain.TimeRange
	Forcing       ForcingTable
	Inflows       []Inflow
	Settings      Settings
	Coverage      map[domain.Variable]Coverage
	FetchAttempts int
	Warnings      []string
}

// Digest is a stable content hash of the bundle, independent of fetch
// completion order. Parameters JSON cannot encode (NaN, Inf) are an error.
func (b *InputBundle) Digest() (string, error) {
	h := sha256.New()

	lake, err := json.Marshal(b.Lake)
	if err != nil {
		return "", fmt.Errorf("hashing lake %s: %w", b.Lake.Key, err)
	}
	h.Write(lake)
	settings, err := json.Marshal(b.Settings)
	if err != nil {
		return "", fmt.Errorf("hashing settings of %s: %w", b.Lake.Key, err)
	}
	h.Write(settings)
	fmt.Fprintf(h, "%d:%d", b.Range.Start.Unix(), b.Range.End.Unix())

	for _, t := range b.Forcing.Times {
		binary.Write(h, binary.LittleEndian, t.Unix())
	}
	for _, col := range [][]float64{
		b.Forcing.U, b.Forcing.V, b.Forcing.AirTemperature, b.Forcing.SolarRadiation,
		b.Forcing.VapourPressure, b.Forcing.Cloud, b.Forcing.Rain,
	} {
		writeColumn(h, col)
	}
	for _, in := range b.Inflows {
		h.Write([]byte(in.Binding.String()))
		writeColumn(h, in.Discharge)
		writeColumn(h, in.Temperature)
		writeColumn(h, in.Salinity)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeColumn(h hash.Hash, col []float64) {
	var buf [8]byte
	for _, v := range col {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	h.Write([]byte{0xff})
}

// Manifest is the JSON summary written next to the materialised inputs
// and used as the artifact of a dry run.
type Manifest struct {
	LakeKey    string                       `json:"lake_key"`
	Digest     string                       `json:"digest"`
	Start      time.Time                    `json:"start"`
	End        time.Time                    `json:"end"`
	Hours      int                          `json:"hours"`
	Inflows    []string                     `json:"inflows,omitempty"`
	Coverage   map[domain.Variable]Coverage `json:"coverage"`
	Settings   Settings                     `json:"settings"`
	Warnings   []string                     `json:"warnings,omitempty"`
	FetchCalls int                          `json:"fetch_calls"`
}

// Manifest summarises the bundle.
func (b *InputBundle) Manifest() (Manifest, error) {
	digest, err := b.Digest()
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		LakeKey:    b.Lake.Key,
		Digest:     digest,
		Start:      b.Range.Start,
		End:        b.Range.End,
		Hours:      b.Forcing.Len(),
		Coverage:   b.Coverage,
		Settings:   b.Settings,
		Warnings:   b.Warnings,
		FetchCalls: b.FetchAttempts,
	}
	for _, in := range b.Inflows {
		m.Inflows = append(m.Inflows, in.Binding.String())
	}
	return m, nil
}

// AssemblyError means a lake cannot get a complete bundle
type AssemblyError struct {
	LakeKey          string
	MissingVariables []domain.Variable
	Reason           string
	Causes           []string
	Attempts         int
}

func (e *AssemblyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lake %s: assembly failed", e.LakeKey)
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if len(e.MissingVariables) > 0 {
		names := make([]string, len(e.MissingVariables))
		for i, v := range e.MissingVariables {
			names[i] = string(v)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, ": missing %s", strings.Join(names, ", "))
	}
	if len(e.Causes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Causes, "; "))
	}
	return b.String()
}
