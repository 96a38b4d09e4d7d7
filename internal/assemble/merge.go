package assemble

import (
	"math"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

type source uint8

const (
	srcNone source = iota
	srcObserved
	srcForecast
	srcInterpolated
)

// grid is the hourly time axis of a bundle
type grid struct {
	start time.Time
	n     int
}

func newGrid(r domain.TimeRange) grid {
	return grid{start: r.Start, n: r.Hours()}
}

// index maps t to the nearest hourly slot.
func (g grid) index(t time.Time) (int, bool) {
	d := t.Sub(g.start)
	if d < -30*time.Minute {
		return 0, false
	}
	i := int((d + 30*time.Minute) / time.Hour)
	if i < 0 || i >= g.n {
		return 0, false
	}
	return i, true
}

func (g grid) time(i int) time.Time {
	return g.start.Add(time.Duration(i) * time.Hour)
}

func (g grid) times() []time.Time {
	out := make([]time.Time, g.n)
	for i := range out {
		out[i] = g.time(i)
	}
	return out
}

// series is one variable on the grid with per-slot provenance
type series struct {
	values []float64
	source []source
}

func newSeries(n int) *series {
	s := &series{values: make([]float64, n), source: make([]source, n)}
	for i := range s.values {
		s.values[i] = math.NaN()
	}
	return s
}

// fill writes samples into empty slots only, so earlier sources win.
func (s *series) fill(g grid, samples []domain.Sample, src source, qa qualityCheck) int {
	filled := 0
	for _, smp := range samples {
		i, ok := g.index(smp.Time)
		if !ok || s.source[i] != srcNone {
			continue
		}
		v, ok := qa(smp.Value)
		if !ok {
			continue
		}
		s.values[i] = v
		s.source[i] = src
		filled++
	}
	return filled
}

// lastCovered returns the index of the last filled slot, or -1.
func (s *series) lastCovered() int {
	for i := len(s.source) - 1; i >= 0; i-- {
		if s.source[i] != srcNone {
			return i
		}
	}
	return -1
}

// interpolate fills interior gaps of at most maxSteps slots linearly.
// Angular series interpolate along the shorter arc.
func (s *series) interpolate(maxSteps int, angular bool) {
	if maxSteps <= 0 {
		return
	}
	prev := -1
	for i, src := range s.source {
		if src == srcNone {
			continue
		}
		if prev >= 0 && i-prev > 1 && i-prev-1 <= maxSteps {
			a, b := s.values[prev], s.values[i]
			if angular {
				b = a + shortestArc(a, b)
			}
			span := float64(i - prev)
			for j := prev + 1; j < i; j++ {
				v := a + (b-a)*float64(j-prev)/span
				if angular {
					v = math.Mod(v+360, 360)
				}
				s.values[j] = v
				s.source[j] = srcInterpolated
			}
		}
		prev = i
	}
}

func shortestArc(from, to float64) float64 {
	d := math.Mod(to-from+540, 360) - 180
	return d
}

func (s *series) complete() bool {
	for _, src := range s.source {
		if src == srcNone {
			return false
		}
	}
	return true
}

func (s *series) coverage(primary string) Coverage {
	c := Coverage{Primary: primary}
	for _, src := range s.source {
		switch src {
		case srcObserved:
			c.Observed++
		case srcForecast:
			c.Forecast++
		case srcInterpolated:
			c.Interpolated++
		}
	}
	return c
}

// qualityCheck maps a raw value to an accepted one, or rejects it
type qualityCheck func(float64) (float64, bool)

func within(lo, hi float64) qualityCheck {
	return func(v float64) (float64, bool) {
		if math.IsNaN(v) || v < lo || v > hi {
			return 0, false
		}
		return v, true
	}
}

func accept(v float64) (float64, bool) {
	return v, !math.IsNaN(v)
}

// qualityChecks enforce plausible ranges per variable before merging, so a
// rejected value from the primary source can be filled by a secondary one.
var qualityChecks = map[domain.Variable]qualityCheck{
	domain.WindSpeed:      within(0, 20),
	domain.WindDirection:  within(0, 360),
	domain.AirTemperature: within(-42, 42),
	domain.VapourPressure: within(1, 70),
	domain.SolarRadiation: func(v float64) (float64, bool) {
		if math.IsNaN(v) || v > 1000 {
			return 0, false
		}
		return math.Max(v, 0), true
	},
	domain.Precipitation: func(v float64) (float64, bool) {
		if math.IsNaN(v) {
			return 0, false
		}
		return math.Max(v, 0), true
	},
	domain.Discharge:        within(0, math.Inf(1)),
	domain.WaterTemperature: within(-1, 40),
}

func checkFor(v domain.Variable) qualityCheck {
	if qa, ok := qualityChecks[v]; ok {
		return qa
	}
	return accept
}

// altitudeCorrection shifts station air temperature to lake altitude.
func altitudeCorrection(samples []domain.Sample, stationElevation, lakeElevation float64) []domain.Sample {
	if stationElevation == 0 {
		return samples
	}
	delta := -lapseRate * (lakeElevation - stationElevation)
	out := make([]domain.Sample, len(samples))
	for i, s := range samples {
		out[i] = domain.Sample{Time: s.Time, Value: s.Value + delta}
	}
	return out
}
