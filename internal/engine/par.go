package engine

import (
	"io"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/assemble"
)

// parFile mirrors the engine's JSON parameter file. Field order is the
// order the engine documents.
type parFile struct {
	Input           parInput           `json:"Input"`
	Output          parOutput          `json:"Output"`
	ModelConfig     parModelConfig     `json:"ModelConfig"`
	AED2Config      *parAED2Config     `json:"AED2Config,omitempty"`
	Simulation      parSimulation      `json:"Simulation"`
	ModelParameters map[string]float64 `json:"ModelParameters"`
}

type parInput struct {
	InitialConditions string `json:"Initial conditions"`
	Grid              int    `json:"Grid"`
	Morphology        string `json:"Morphology"`
	Forcing           string `json:"Forcing"`
	Absorption        string `json:"Absorption"`
	Inflow            string `json:"Inflow"`
	Outflow           string `json:"Outflow"`
	InflowTemperature string `json:"Inflow temperature"`
	InflowSalinity    string `json:"Inflow salinity"`
}

type parOutput struct {
	Path                 string   `json:"Path"`
	Depths               string   `json:"Depths"`
	OutputDepthReference string   `json:"OutputDepthReference"`
	Times                string   `json:"Times"`
	All                  bool     `json:"All"`
	Variables            []string `json:"Variables"`
}

type parModelConfig struct {
	MaxLengthInputData   int  `json:"MaxLengthInputData"`
	CoupleAED2           bool `json:"CoupleAED2"`
	TurbulenceModel      int  `json:"TurbulenceModel"`
	SplitSeicheParameter bool `json:"SplitSeicheParameter"`
	StabilityFunction    int  `json:"StabilityFunction"`
	FluxCondition        int  `json:"FluxCondition"`
	Forcing              int  `json:"Forcing"`
	UseFilteredWind      bool `json:"UseFilteredWind"`
	SeicheNormalization  int  `json:"SeicheNormalization"`
	WindDragModel        int  `json:"WindDragModel"`
	InflowPlacement      int  `json:"InflowPlacement"`
	PressureGradients    int  `json:"PressureGradients"`
	IceModel             int  `json:"IceModel"`
	SnowModel            int  `json:"SnowModel"`
	InflowMode           int  `json:"InflowMode"`
}

type parAED2Config struct {
	ConfigFile       string `json:"AED2ConfigFile"`
	PathAED2Initial  string `json:"PathAED2initial"`
	PathAED2Inflow   string `json:"PathAED2inflow"`
	ParticleMobility int    `json:"ParticleMobility"`
	BioshadeFeedback int    `json:"BioshadeFeedback"`
}

type parSimulation struct {
	Timestep             int     `json:"Timestep s"`
	Start                float64 `json:"Start d"`
	End                  float64 `json:"End d"`
	ContinueFromSnapshot bool    `json:"Continue from last snapshot"`
	ShowProgressBar      bool    `json:"Show progress bar"`
	SaveTextRestart      bool    `json:"Save text restart"`
	UseTextRestart       bool    `json:"Use text restart"`
	ReferenceYear        int     `json:"Reference year"`
	Snapshot             bool    `json:"Snapshot"`
}

func newParFile(bundle *assemble.InputBundle, snapshot bool) parFile {
	s := bundle.Settings
	ref := s.ReferenceDate

	par := parFile{
		Input: parInput{
			InitialConditions: "InitialConditions.dat",
			Grid:              s.GridCells,
			Morphology:        "Bathymetry.dat",
			Forcing:           "Forcing.dat",
			Absorption:        "Absorption.dat",
			Inflow:            "Qin.dat",
			Outflow:           "Qout.dat",
			InflowTemperature: "Tin.dat",
			InflowSalinity:    "Sin.dat",
		},
		Output: parOutput{
			Path:                 ResultsDir,
			Depths:               "z_out.dat",
			OutputDepthReference: "surface",
			Times:                "t_out.dat",
			Variables:            []string{"T", "S", "WaterH", "WaterIceH", "SnowH", "TotalIceH"},
		},
		ModelConfig: parModelConfig{
			MaxLengthInputData:  1000,
			CoupleAED2:          s.CoupleAED2,
			TurbulenceModel:     1,
			StabilityFunction:   2,
			FluxCondition:       1,
			Forcing:             5,
			SeicheNormalization: 2,
			WindDragModel:       3,
			IceModel:            1,
			SnowModel:           1,
			InflowMode:          s.InflowMode,
		},
		Simulation: parSimulation{
			Timestep:             s.ModelTimeResolution,
			Start:                simTime(bundle.Range.Start.Add(time.Hour), ref),
			End:                  simTime(bundle.Range.End.Add(-time.Hour), ref),
			ContinueFromSnapshot: snapshot,
			ReferenceYear:        ref.Year(),
			Snapshot:             true,
		},
		ModelParameters: s.ModelParameters,
	}
	if s.CoupleAED2 {
		par.AED2Config = &parAED2Config{
			ConfigFile:       "aed2.nml",
			PathAED2Initial:  "AED2_initcond/",
			PathAED2Inflow:   "AED2_inflow/",
			ParticleMobility: 1,
			BioshadeFeedback: 1,
		}
	}
	return par
}

func writePar(w io.Writer, bundle *assemble.InputBundle, snapshot bool) error {
	return writeJSON(w, newParFile(bundle, snapshot))
}
