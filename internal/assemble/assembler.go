// Package assemble turns lake parameters plus provider data into a
// complete, validated input bundle for one engine run.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/forcing"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/retry"
)

// Fetcher is the part of the forcing adapter the assembler needs.
type Fetcher interface {
	Fetch(ctx context.Context, req forcing.Request) (domain.ForcingTimeSeries, error)
	Variables(bindingType string) []domain.Variable
}

// Clock returns the current time; injected so ranges are reproducible.
type Clock func() time.Time

// DefaultFetchConcurrency bounds parallel provider calls within one lake.
const DefaultFetchConcurrency = 8

// Assembler builds input bundles
type Assembler struct {
	fetcher     Fetcher
	budget      *retry.Budget
	now         Clock
	concurrency int
}

// Option configures an Assembler
type Option func(*Assembler)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(a *Assembler) { a.now = c }
}

// WithConcurrency sets how many fetches run at once for one lake.
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// New creates an assembler. budget is shared by every lake of a batch and
// may be nil.
func New(fetcher Fetcher, budget *retry.Budget, opts ...Option) *Assembler {
	a := &Assembler{
		fetcher:     fetcher,
		budget:      budget,
		now:         time.Now,
		concurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// job is one provider call; idx fixes its slot in the results so merge
// order never depends on completion order.
type job struct {
	idx      int
	binding  domain.ForcingBinding
	variable domain.Variable
	rng      domain.TimeRange
}

type result struct {
	series   domain.ForcingTimeSeries
	err      error
	attempts int
}

// Assemble computes the required range, fetches every binding and
// variable, merges them onto an hourly grid and derives engine settings.
func (a *Assembler) Assemble(ctx context.Context, lake domain.LakeParameters, cfg args.RunConfiguration) (*InputBundle, error) {
	logger := logging.FromContext(ctx).With("lake", lake.Key, "stage", "assemble")

	r, err := a.RequiredRange(lake, cfg)
	if err != nil {
		return nil, &AssemblyError{LakeKey: lake.Key, Reason: err.Error()}
	}
	settings, err := deriveSettings(lake, cfg, r)
	if err != nil {
		return nil, &AssemblyError{LakeKey: lake.Key, Reason: err.Error()}
	}
	logger.Info("assembling inputs", "start", r.Start, "end", r.End, "hours", r.Hours())

	g := newGrid(r)
	bundle := &InputBundle{
		Lake:     lake,
		Range:    r,
		Settings: settings,
		Coverage: make(map[domain.Variable]Coverage),
	}

	// Observed meteorology, bindings in declaration order
	var jobs []job
	for _, b := range lake.Forcing {
		for _, v := range intersect(a.fetcher.Variables(b.Type), domain.MeteoVariables()) {
			jobs = append(jobs, job{idx: len(jobs), binding: b, variable: v, rng: r})
		}
	}
	inflowStart := len(jobs)
	for _, b := range lake.Inflows {
		for _, v := range intersect(a.fetcher.Variables(b.Type), domain.HydroVariables()) {
			jobs = append(jobs, job{idx: len(jobs), binding: b, variable: v, rng: r})
		}
	}

	results, err := a.fetchAll(ctx, cfg, lake, jobs)
	if err != nil {
		return nil, err
	}

	meteo := make(map[domain.Variable]*series)
	primary := make(map[domain.Variable]string)
	causes := make(map[domain.Variable][]string)
	for _, v := range domain.MeteoVariables() {
		meteo[v] = newSeries(g.n)
	}
	for _, j := range jobs[:inflowStart] {
		res := results[j.idx]
		bundle.FetchAttempts += res.attempts
		if res.err != nil {
			level := slog.LevelWarn
			if forcing.IsDataGap(res.err) {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "forcing source missing", "binding", j.binding.String(), "variable", j.variable, "error", res.err)
			causes[j.variable] = append(causes[j.variable], res.err.Error())
			continue
		}
		samples := res.series.Samples
		if j.variable == domain.AirTemperature {
			samples = altitudeCorrection(samples, res.series.StationElevation, lake.Elevation)
		}
		if meteo[j.variable].fill(g, samples, srcObserved, checkFor(j.variable)) > 0 && primary[j.variable] == "" {
			primary[j.variable] = j.binding.String()
		}
	}

	// Forecast covers whatever tail the observations left open
	if cfg.Forecast && lake.Forecast != nil {
		tail := g.n
		for _, s := range meteo {
			if last := s.lastCovered() + 1; last < tail {
				tail = last
			}
		}
		if tail < g.n {
			attempts, err := a.fillForecast(ctx, cfg, lake, g, tail, meteo, causes)
			if err != nil {
				return nil, err
			}
			bundle.FetchAttempts += attempts
		}
	}

	for _, j := range jobs[inflowStart:] {
		bundle.FetchAttempts += results[j.idx].attempts
	}

	maxSteps := int(cfg.MaxInterpolateGap / time.Hour)
	var missing []domain.Variable
	var missingCauses []string
	for _, v := range domain.MeteoVariables() {
		s := meteo[v]
		s.interpolate(maxSteps, v == domain.WindDirection)
		if !s.complete() {
			missing = append(missing, v)
			missingCauses = append(missingCauses, causes[v]...)
			continue
		}
		bundle.Coverage[v] = s.coverage(primary[v])
	}
	if len(missing) > 0 {
		return nil, &AssemblyError{
			LakeKey:          lake.Key,
			MissingVariables: missing,
			Causes:           missingCauses,
			Attempts:         bundle.FetchAttempts,
		}
	}

	bundle.Inflows, bundle.Warnings = a.buildInflows(lake, g, jobs[inflowStart:], results, maxSteps)
	if len(bundle.Inflows) > 0 {
		bundle.Settings.InflowMode = 2
	}
	bundle.Forcing = buildForcingTable(g, meteo, lake)

	logger.Info("inputs assembled", "fetches", bundle.FetchAttempts, "inflows", len(bundle.Inflows))
	return bundle, nil
}

// RequiredRange derives [start, end) from the arguments and the clock.
func (a *Assembler) RequiredRange(lake domain.LakeParameters, cfg args.RunConfiguration) (domain.TimeRange, error) {
	end := cfg.EndDate
	if end.IsZero() {
		end = a.now().UTC().Truncate(24 * time.Hour)
		if cfg.Forecast && lake.Forecast != nil && lake.Forecast.HorizonDays > 0 {
			end = end.AddDate(0, 0, lake.Forecast.HorizonDays)
		}
	}
	start := cfg.StartDate
	if start.IsZero() {
		start = end.AddDate(0, 0, -cfg.SpinupDays)
	}

	ref, err := lake.Reference()
	if err != nil {
		return domain.TimeRange{}, err
	}
	if start.Before(ref) {
		return domain.TimeRange{}, fmt.Errorf("start %s is before reference date %s",
			start.Format(domain.DateLayout), ref.Format(domain.DateLayout))
	}
	if !start.Before(end) {
		return domain.TimeRange{}, fmt.Errorf("start %s is not before end %s",
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return domain.TimeRange{Start: start, End: end}, nil
}

// fetchAll runs jobs concurrently, retrying unavailable providers. Job
// failures are recorded per slot and never abort the group.
func (a *Assembler) fetchAll(ctx context.Context, cfg args.RunConfiguration, lake domain.LakeParameters, jobs []job) ([]result, error) {
	results := make([]result, len(jobs))
	policy := cfg.FetchPolicy()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			req := forcing.Request{
				Binding:   j.binding,
				Variable:  j.variable,
				Range:     j.rng,
				Latitude:  lake.Latitude,
				Longitude: lake.Longitude,
			}
			var series domain.ForcingTimeSeries
			attempts, err := retry.Do(gctx, policy, a.budget, forcing.IsUnavailable, func(ctx context.Context, attempt int) error {
				var err error
				series, err = a.fetcher.Fetch(ctx, req)
				return err
			})
			results[j.idx] = result{series: series, err: err, attempts: attempts}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assembling %s: %w", lake.Key, err)
	}
	return results, nil
}

func (a *Assembler) fillForecast(ctx context.Context, cfg args.RunConfiguration, lake domain.LakeParameters, g grid, tail int, meteo map[domain.Variable]*series, causes map[domain.Variable][]string) (int, error) {
	binding := domain.ForcingBinding{ID: lake.Key, Type: lake.Forecast.Product()}
	rng := domain.TimeRange{Start: g.time(tail), End: g.time(g.n)}

	var jobs []job
	for _, v := range intersect(a.fetcher.Variables(binding.Type), domain.MeteoVariables()) {
		jobs = append(jobs, job{idx: len(jobs), binding: binding, variable: v, rng: rng})
	}
	results, err := a.fetchAll(ctx, cfg, lake, jobs)
	if err != nil {
		return 0, err
	}

	attempts := 0
	for _, j := range jobs {
		res := results[j.idx]
		attempts += res.attempts
		if res.err != nil {
			causes[j.variable] = append(causes[j.variable], res.err.Error())
			continue
		}
		samples := res.series.Samples
		if j.variable == domain.AirTemperature {
			samples = altitudeCorrection(samples, res.series.StationElevation, lake.Elevation)
		}
		meteo[j.variable].fill(g, samples, srcForecast, checkFor(j.variable))
	}
	return attempts, nil
}

// buildInflows keeps inflows whose discharge and temperature are complete
// after interpolation. Incomplete inflows are dropped with a warning.
func (a *Assembler) buildInflows(lake domain.LakeParameters, g grid, jobs []job, results []result, maxSteps int) ([]Inflow, []string) {
	type pair struct{ q, t *series }
	byBinding := make(map[domain.ForcingBinding]*pair)

	for _, j := range jobs {
		p, ok := byBinding[j.binding]
		if !ok {
			p = &pair{q: newSeries(g.n), t: newSeries(g.n)}
			byBinding[j.binding] = p
		}
		res := results[j.idx]
		if res.err != nil {
			continue
		}
		target := p.q
		if j.variable == domain.WaterTemperature {
			target = p.t
		}
		target.fill(g, res.series.Samples, srcObserved, checkFor(j.variable))
	}

	var inflows []Inflow
	var warnings []string
	for _, b := range lake.Inflows {
		p, ok := byBinding[b]
		if !ok {
			continue
		}
		p.q.interpolate(maxSteps, false)
		p.t.interpolate(maxSteps, false)
		if !p.q.complete() || !p.t.complete() {
			warnings = append(warnings, fmt.Sprintf("inflow %s dropped: incomplete discharge or temperature", b))
			continue
		}
		sal := make([]float64, g.n)
		for i := range sal {
			sal[i] = lake.Salinity
		}
		inflows = append(inflows, Inflow{Binding: b, Discharge: p.q.values, Temperature: p.t.values, Salinity: sal})
	}
	return inflows, warnings
}

// buildForcingTable converts merged raw variables to engine columns.
func buildForcingTable(g grid, meteo map[domain.Variable]*series, lake domain.LakeParameters) ForcingTable {
	n := g.n
	ft := ForcingTable{
		Times:          g.times(),
		U:              make([]float64, n),
		V:              make([]float64, n),
		AirTemperature: append([]float64(nil), meteo[domain.AirTemperature].values...),
		SolarRadiation: append([]float64(nil), meteo[domain.SolarRadiation].values...),
		VapourPressure: append([]float64(nil), meteo[domain.VapourPressure].values...),
		Rain:           make([]float64, n),
	}
	speed := meteo[domain.WindSpeed].values
	dir := meteo[domain.WindDirection].values
	rain := meteo[domain.Precipitation].values
	for i := 0; i < n; i++ {
		rad := dir[i] * math.Pi / 180
		ft.U[i] = -speed[i] * math.Sin(rad)
		ft.V[i] = -speed[i] * math.Cos(rad)
		ft.Rain[i] = rain[i] * 0.001
	}
	ft.Cloud = cloudCover(ft.Times, ft.SolarRadiation, lake.Latitude, lake.Longitude)
	return ft
}

func intersect(have, want []domain.Variable) []domain.Variable {
	set := make(map[domain.Variable]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	var out []domain.Variable
	for _, v := range want {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}
