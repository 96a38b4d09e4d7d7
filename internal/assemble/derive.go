package assemble

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

const (
	maxGridCells  = 1000
	lapseRate     = 0.0065 // K/m
	solarConstant = 1361.0 // W/m2
	clearSkyTrans = 0.75
)

// Engine model parameters and their defaults; lake coefficients with the
// same name override them.
var defaultModelParameters = map[string]float64{
	"lat":      0,
	"p_air":    1013.25,
	"a_seiche": 0.001,
	"q_nn":     1.1,
	"f_wind":   1.0,
	"C10":      1.0,
	"CD":       0.002,
	"fgeo":     0.0,
	"k_min":    1e-9,
	"p_radin":  1.0,
	"p_windf":  1.0,
	"beta_sol": 0.35,
	"albsw":    0.08,
}

func deriveSettings(lake domain.LakeParameters, cfg args.RunConfiguration, r domain.TimeRange) (Settings, error) {
	ref, err := lake.Reference()
	if err != nil {
		return Settings{}, err
	}
	bathy, err := bathymetry(lake)
	if err != nil {
		return Settings{}, err
	}
	maxDepth := 0.0
	for _, d := range bathy.Depth {
		maxDepth = math.Max(maxDepth, math.Abs(d))
	}
	if maxDepth <= 0 {
		return Settings{}, fmt.Errorf("bathymetry has no depth")
	}

	gridRes := lake.GridResolution
	if gridRes <= 0 {
		gridRes = depthStep(maxDepth, 0.5, 0.25, 0.125, 0.05)
	}
	cells := int(math.Ceil(maxDepth / gridRes))
	if cells > maxGridCells {
		cells = maxGridCells
	}

	outRes := lake.OutputDepthResolution
	if outRes <= 0 {
		outRes = depthStep(maxDepth, 1, 0.5, 0.25, 0.1)
	}

	if lake.ModelTimeResolution <= 0 || lake.OutputTimeResolution%lake.ModelTimeResolution != 0 {
		return Settings{}, fmt.Errorf("output time resolution %d must be a multiple of model time resolution %d",
			lake.OutputTimeResolution, lake.ModelTimeResolution)
	}

	pAir := airPressure(lake.Elevation)
	seiche := 0.0017 * math.Sqrt(lake.SurfaceArea)

	params := make(map[string]float64, len(defaultModelParameters))
	for k, v := range defaultModelParameters {
		params[k] = v
	}
	params["lat"] = lake.Latitude
	params["p_air"] = pAir
	params["a_seiche"] = seiche
	if lake.GeothermalFlux != 0 {
		params["fgeo"] = lake.GeothermalFlux
	}
	for k, v := range lake.Coefficients {
		if _, ok := params[k]; ok {
			params[k] = v
		}
	}

	return Settings{
		ReferenceDate:         ref,
		Bathymetry:            bathy,
		MaxDepth:              maxDepth,
		GridResolution:        gridRes,
		GridCells:             cells,
		OutputDepthResolution: outRes,
		OutputDepths:          outputDepths(maxDepth, outRes),
		ModelTimeResolution:   lake.ModelTimeResolution,
		OutputTimeSteps:       lake.OutputTimeResolution / lake.ModelTimeResolution,
		InitialConditions:     defaultInitialConditions(r.Start.YearDay(), lake.Elevation, maxDepth, lake.Salinity),
		Absorption:            defaultAbsorption(lake.TrophicState, lake.Elevation, lake.Absorption),
		AirPressure:           pAir,
		SeicheCoefficient:     seiche,
		CoupleAED2:            cfg.CoupleAED2,
		EngineVersion:         cfg.EngineVersion,
		ModelParameters:       params,
	}, nil
}

// bathymetry uses the explicit profile, or a two-point cone from surface
// area and maximum depth.
func bathymetry(lake domain.LakeParameters) (domain.Bathymetry, error) {
	if b := lake.Bathymetry; b != nil && len(b.Depth) >= 2 {
		return domain.Bathymetry{
			Depth: append([]float64(nil), b.Depth...),
			Area:  append([]float64(nil), b.Area...),
		}, nil
	}
	if lake.MaxDepth > 0 && lake.SurfaceArea > 0 {
		return domain.Bathymetry{
			Depth: []float64{0, lake.MaxDepth},
			Area:  []float64{lake.SurfaceArea * 1e6, 0},
		}, nil
	}
	return domain.Bathymetry{}, fmt.Errorf("no bathymetry: provide bathymetry or max_depth")
}

// depthStep picks a resolution by maximum depth thresholds 20, 10 and 5 m.
func depthStep(maxDepth, over20, over10, over5, shallow float64) float64 {
	switch {
	case maxDepth > 20:
		return over20
	case maxDepth > 10:
		return over10
	case maxDepth > 5:
		return over5
	default:
		return shallow
	}
}

func outputDepths(maxDepth, res float64) []float64 {
	n := int(math.Ceil(maxDepth/res - 1e-9))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, math.Round(float64(i)*res*1e6)/1e6)
	}
	return out
}

// airPressure in mbar from elevation in m, barometric formula.
func airPressure(elevation float64) float64 {
	return 1013.25 * math.Pow(1-lapseRate*elevation/288.15, 5.255)
}

func defaultAbsorption(trophic string, elevation, given float64) float64 {
	if given > 0 {
		return given
	}
	if elevation > 2000 {
		return 1.0
	}
	switch strings.ToLower(trophic) {
	case "oligotrophic":
		return 0.15
	case "eutrophic":
		return 0.5
	default:
		return 0.25
	}
}

var (
	profileDepths = []float64{0, 10, 20, 30, 40, 50, 100, 150, 200, 300}
	seasonDays    = []float64{0, 91, 182, 273, 365}

	// rows: ~Jan 1, Apr 1, Jul 1, Oct 1, Dec 31
	profile500m = [][]float64{
		{5.5, 5.5, 5.0, 5.0, 5.0, 4.5, 4.5, 4.5, 4.5, 4.5},
		{8.0, 6.0, 5.0, 5.0, 5.0, 4.5, 4.5, 4.5, 4.5, 4.5},
		{20., 18., 14., 8.0, 6.0, 4.5, 4.5, 4.5, 4.5, 4.5},
		{9.5, 9.5, 9.0, 8.0, 7.0, 5.0, 4.5, 4.5, 4.5, 4.5},
		{5.5, 5.5, 5.0, 5.0, 5.0, 4.5, 4.5, 4.5, 4.5, 4.5},
	}
	profile1500m = [][]float64{
		{0.0, 2.5, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0},
		{0.0, 2.5, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0},
		{14., 9.0, 6.0, 4.5, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0},
		{8.0, 8.0, 7.0, 6.0, 5.0, 4.0, 4.0, 4.0, 4.0, 4.0},
		{0.0, 2.5, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0},
	}
)

// defaultInitialConditions interpolates a climatological temperature
// profile by day of year and elevation.
func defaultInitialConditions(doy int, elevation, maxDepth, salinity float64) Profile {
	temps := make([]float64, len(profileDepths))
	for k := range profileDepths {
		t500 := interp(float64(doy), seasonDays, tableColumn(profile500m, k))
		t1500 := interp(float64(doy), seasonDays, tableColumn(profile1500m, k))
		temps[k] = interp(elevation, []float64{500, 1500}, []float64{t500, t1500})
	}

	var depths []float64
	for _, d := range profileDepths {
		if d < maxDepth {
			depths = append(depths, d)
		}
	}
	depths = append(depths, maxDepth)

	p := Profile{
		Depth:       depths,
		Temperature: make([]float64, len(depths)),
		Salinity:    make([]float64, len(depths)),
	}
	for i, d := range depths {
		p.Temperature[i] = interp(d, profileDepths, temps)
		p.Salinity[i] = salinity
	}
	return p
}

func tableColumn(table [][]float64, k int) []float64 {
	out := make([]float64, len(table))
	for i, row := range table {
		out[i] = row[k]
	}
	return out
}

// interp is piecewise linear interpolation clamped at both ends. xp must
// be increasing.
func interp(x float64, xp, fp []float64) float64 {
	if x <= xp[0] {
		return fp[0]
	}
	last := len(xp) - 1
	if x >= xp[last] {
		return fp[last]
	}
	for i := 1; i <= last; i++ {
		if x <= xp[i] {
			w := (x - xp[i-1]) / (xp[i] - xp[i-1])
			return fp[i-1] + w*(fp[i]-fp[i-1])
		}
	}
	return fp[last]
}

// clearSkyRadiation estimates cloudless global radiation from solar
// elevation at t.
func clearSkyRadiation(t time.Time, lat, lon float64) float64 {
	doy := float64(t.YearDay())
	decl := 23.44 * math.Pi / 180 * math.Sin(2*math.Pi*(284+doy)/365)
	solarHour := float64(t.Hour()) + float64(t.Minute())/60 + lon/15
	hourAngle := (solarHour - 12) * 15 * math.Pi / 180
	latR := lat * math.Pi / 180

	sinAlt := math.Sin(latR)*math.Sin(decl) + math.Cos(latR)*math.Cos(decl)*math.Cos(hourAngle)
	if sinAlt <= 0 {
		return 0
	}
	return solarConstant * sinAlt * clearSkyTrans
}

// cloudCover compares 24 h centred means of measured and clear-sky
// radiation; cloud = 1 - ratio, clamped to [0, 1].
func cloudCover(times []time.Time, solar []float64, lat, lon float64) []float64 {
	n := len(times)
	cssr := make([]float64, n)
	for i, t := range times {
		cssr[i] = clearSkyRadiation(t, lat, lon)
	}
	measured := rollingMean(solar, 24)
	theory := rollingMean(cssr, 24)

	out := make([]float64, n)
	for i := range out {
		if theory[i] <= 0 {
			out[i] = 0.5
			continue
		}
		ratio := math.Max(0, math.Min(1, measured[i]/theory[i]))
		out[i] = 1 - ratio
	}
	return out
}

func rollingMean(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	half := window / 2
	for i := range values {
		lo, hi := i-half, i+window-half
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		sum := 0.0
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
