package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/assemble"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// Input and output file names inside a lake directory.
const (
	ParFile          = "Settings.par"
	ManifestFile     = "bundle.json"
	LogFile          = "engine.log"
	ResultsDir       = "Results"
	SnapshotFile     = "simulation-snapshot.dat"
	snapshotPrefix   = "simulation-snapshot_"
	defaultFsedOxy   = -20.0
	turbulentK       = "3E-6"
	turbulentEpsilon = "5E-10"
)

// Workspace is a materialised lake directory
type Workspace struct {
	Dir          string
	Files        []string
	Snapshot     bool
	SnapshotDate string
}

type fileWriter struct {
	name  string
	write func(w io.Writer) error
}

// MaterializeOptions control how an existing lake directory is treated
type MaterializeOptions struct {
	Overwrite    bool
	Snapshot     bool
	SnapshotDate time.Time
}

// Materialize writes every engine input for bundle into dir.
func Materialize(bundle *assemble.InputBundle, dir string, opts MaterializeOptions) (*Workspace, error) {
	if opts.Overwrite {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, ResultsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	ws := &Workspace{Dir: dir}
	if opts.Snapshot {
		date, err := prepareSnapshot(dir, opts.SnapshotDate)
		if err != nil {
			return nil, err
		}
		ws.Snapshot = date != ""
		ws.SnapshotDate = date
	}

	s := bundle.Settings
	ref := s.ReferenceDate
	times := bundle.Forcing.Times

	writers := []fileWriter{
		{"Bathymetry.dat", func(w io.Writer) error { return writeBathymetry(w, s.Bathymetry) }},
		{"Grid.dat", func(w io.Writer) error { return writeGrid(w, s.GridCells) }},
		{"z_out.dat", func(w io.Writer) error { return writeOutputDepths(w, s.OutputDepths) }},
		{"t_out.dat", func(w io.Writer) error { return writeOutputTimes(w, s.OutputTimeSteps) }},
		{"InitialConditions.dat", func(w io.Writer) error { return writeInitialConditions(w, s.InitialConditions) }},
		{"Absorption.dat", func(w io.Writer) error { return writeAbsorption(w, bundle.Range, ref, s.Absorption) }},
		{"Forcing.dat", func(w io.Writer) error { return writeForcing(w, bundle.Forcing, ref) }},
		{"Qin.dat", func(w io.Writer) error {
			return writeInflow(w, "Q [m3/s]", times, ref, bundle.Inflows, func(in assemble.Inflow) []float64 { return in.Discharge })
		}},
		{"Tin.dat", func(w io.Writer) error {
			return writeInflow(w, "T [°C]", times, ref, bundle.Inflows, func(in assemble.Inflow) []float64 { return in.Temperature })
		}},
		{"Sin.dat", func(w io.Writer) error {
			return writeInflow(w, "S [‰]", times, ref, bundle.Inflows, func(in assemble.Inflow) []float64 { return in.Salinity })
		}},
		{"Qout.dat", func(w io.Writer) error { return writeInflow(w, "Q [m3/s]", times, ref, nil, nil) }},
		{ParFile, func(w io.Writer) error { return writePar(w, bundle, ws.Snapshot) }},
		{ManifestFile, func(w io.Writer) error {
			m, err := bundle.Manifest()
			if err != nil {
				return err
			}
			return writeJSON(w, m)
		}},
	}
	if s.CoupleAED2 {
		writers = append(writers, fileWriter{"aed2.nml", func(w io.Writer) error { return writeAED2(w, bundle.Lake) }})
	}

	for _, fw := range writers {
		path := filepath.Join(dir, fw.name)
		if err := writeFile(path, fw.write); err != nil {
			return nil, fmt.Errorf("writing %s: %w", fw.name, err)
		}
		ws.Files = append(ws.Files, path)
	}
	return ws, nil
}

func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// prepareSnapshot copies the requested (or most recent) dated snapshot to
// the name the engine resumes from. It returns the date used, or "" when
// no snapshot is available.
func prepareSnapshot(dir string, date time.Time) (string, error) {
	var stamp string
	if !date.IsZero() {
		stamp = date.Format(domain.DateLayout)
		if _, err := os.Stat(filepath.Join(dir, snapshotPrefix+stamp+".dat")); err != nil {
			return "", nil
		}
	} else {
		matches, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*.dat"))
		if err != nil || len(matches) == 0 {
			return "", nil
		}
		sort.Strings(matches)
		base := filepath.Base(matches[len(matches)-1])
		stamp = strings.TrimSuffix(strings.TrimPrefix(base, snapshotPrefix), ".dat")
	}

	src := filepath.Join(dir, snapshotPrefix+stamp+".dat")
	if err := copyFile(src, filepath.Join(dir, SnapshotFile)); err != nil {
		return "", fmt.Errorf("preparing snapshot %s: %w", stamp, err)
	}
	return stamp, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// simTime converts t to engine time, days since the reference date.
func simTime(t, ref time.Time) float64 {
	return t.Sub(ref).Hours() / 24
}

func writeBathymetry(w io.Writer, b domain.Bathymetry) error {
	fmt.Fprintf(w, "%s    %s\n", "Depth [m]", "Area [m2]")
	for i := range b.Depth {
		depth := b.Depth[i]
		if depth > 0 {
			depth = -depth
		}
		if _, err := fmt.Fprintf(w, "%6.1f    %9.0f\n", depth, b.Area[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeGrid(w io.Writer, cells int) error {
	_, err := fmt.Fprintf(w, "Number of grid points\n%d\n", cells)
	return err
}

func writeOutputDepths(w io.Writer, depths []float64) error {
	fmt.Fprintln(w, "Depths [m]")
	for _, z := range depths {
		if z > 0 {
			z = -z
		}
		if _, err := fmt.Fprintf(w, "%.2f\n", z); err != nil {
			return err
		}
	}
	return nil
}

func writeOutputTimes(w io.Writer, steps int) error {
	_, err := fmt.Fprintf(w, "Number of time steps\n%d\n", steps)
	return err
}

func writeInitialConditions(w io.Writer, p assemble.Profile) error {
	fmt.Fprintln(w, "Depth [m]\tVelocity x [m/s]\tVelocity y [m/s]\tTemperature [°C]\tSalinity [‰]\tk [J/kg]\teps [W/kg]")
	for i, d := range p.Depth {
		if _, err := fmt.Fprintf(w, "%.3f\t0\t0\t%.3f\t%.3f\t%s\t%s\n",
			-d, p.Temperature[i], p.Salinity[i], turbulentK, turbulentEpsilon); err != nil {
			return err
		}
	}
	return nil
}

func writeAbsorption(w io.Writer, r domain.TimeRange, ref time.Time, absorption float64) error {
	fmt.Fprintln(w, "Time [d] (1.col)    z [m] (1.row)    Absorption [m-1] (rest)")
	fmt.Fprintln(w, "1")
	fmt.Fprintln(w, "-1 0.00")
	for _, t := range []time.Time{r.Start, r.End} {
		if _, err := fmt.Fprintf(w, "%.4f %.4f\n", simTime(t, ref), absorption); err != nil {
			return err
		}
	}
	return nil
}

func writeForcing(w io.Writer, f assemble.ForcingTable, ref time.Time) error {
	fmt.Fprintln(w, "Time [d]\tu [m/s]\tv [m/s]\tTair [°C]\tsol [W/m2]\tvap [mbar]\tcloud [-]\train [m/h]")
	for i, t := range f.Times {
		if _, err := fmt.Fprintf(w, "%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.6f\n",
			simTime(t, ref), f.U[i], f.V[i], f.AirTemperature[i], f.SolarRadiation[i],
			f.VapourPressure[i], f.Cloud[i], f.Rain[i]); err != nil {
			return err
		}
	}
	return nil
}

// writeInflow writes one inflow quantity in the deep-inflow layout. With
// no inflows only the first and last times are written.
func writeInflow(w io.Writer, label string, times []time.Time, ref time.Time, inflows []assemble.Inflow, column func(assemble.Inflow) []float64) error {
	fmt.Fprintf(w, "Time [d]\t%s\n", label)
	fmt.Fprintf(w, "%d 0\n", len(inflows))
	fmt.Fprint(w, "-1")
	for range inflows {
		fmt.Fprint(w, "\t0.00")
	}
	fmt.Fprintln(w)

	if len(inflows) == 0 {
		if len(times) == 0 {
			return nil
		}
		for _, t := range []time.Time{times[0], times[len(times)-1]} {
			if _, err := fmt.Fprintf(w, "%.4f\n", simTime(t, ref)); err != nil {
				return err
			}
		}
		return nil
	}

	cols := make([][]float64, len(inflows))
	for j, in := range inflows {
		cols[j] = column(in)
	}
	for i, t := range times {
		fmt.Fprintf(w, "%.4f", simTime(t, ref))
		for _, col := range cols {
			fmt.Fprintf(w, "\t%.4f", col[i])
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func writeAED2(w io.Writer, lake domain.LakeParameters) error {
	rate := lake.SedimentOxygenUptakeRate
	if rate == 0 {
		rate = defaultFsedOxy
	}
	data, err := render("aed2.nml.tmpl", aed2Data{SedimentOxygenUptakeRate: rate})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
