package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
)

type typeSet map[string]bool

func (s typeSet) Supports(t string) bool { return s[t] }

var known = typeSet{
	"meteoswiss_meteostation": true,
	"bafu_hydrostation":       true,
	"meteoswiss/icon":         true,
}

const lakesJSON = `[
  {
    "key": "hallwil",
    "name": "Hallwilersee",
    "elevation": 449,
    "surface_area": 10.3,
    "max_depth": 47,
    "trophic_state": "Eutrophic",
    "latitude": 47.277,
    "longitude": 8.217,
    "forcing": [{"id": "BUS", "type": "meteoswiss_meteostation"}]
  },
  {
    "key": "greifensee",
    "name": "Greifensee",
    "elevation": 435,
    "surface_area": 8.5,
    "max_depth": 32,
    "trophic_state": "Eutrophic",
    "latitude": 47.35,
    "longitude": 8.68,
    "reference_date": "19810101",
    "forcing": [
      {"id": "SMA", "type": "meteoswiss_meteostation"},
      {"id": "KLO", "type": "meteoswiss_meteostation"}
    ],
    "inflows": [{"id": "2176", "type": "bafu_hydrostation"}],
    "forcing_forecast": {"source": "meteoswiss", "model": "icon", "days": 5}
  }
]`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lakes.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	reg, err := Load(writeRegistry(t, lakesJSON), known)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reg.Len())
	}

	lakes := reg.List()
	if lakes[0].Key != "greifensee" || lakes[1].Key != "hallwil" {
		t.Errorf("List() not sorted: %s, %s", lakes[0].Key, lakes[1].Key)
	}

	g, err := reg.Get("greifensee")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(g.Forcing) != 2 || g.Forcing[0].ID != "SMA" {
		t.Errorf("Forcing = %+v", g.Forcing)
	}
	if g.Forecast == nil || g.Forecast.HorizonDays != 5 {
		t.Errorf("Forecast = %+v", g.Forecast)
	}
	if g.ModelTimeResolution != 300 {
		t.Errorf("defaults not applied, ModelTimeResolution = %d", g.ModelTimeResolution)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"duplicate key",
			`[{"key":"a","surface_area":1,"forcing":[{"id":"X","type":"meteoswiss_meteostation"}]},
			  {"key":"a","surface_area":1,"forcing":[{"id":"Y","type":"meteoswiss_meteostation"}]}]`,
			"duplicate key",
		},
		{
			"unknown binding type",
			`[{"key":"a","surface_area":1,"forcing":[{"id":"X","type":"ftp_dump"}]}]`,
			"unsupported binding type",
		},
		{
			"malformed binding",
			`[{"key":"a","surface_area":1,"forcing":[{"id":"","type":"meteoswiss_meteostation"}]}]`,
			"invalid binding id",
		},
		{
			"no forcing",
			`[{"key":"a","surface_area":1}]`,
			"no forcing bindings",
		},
		{
			"bad key",
			`[{"key":"Lake Zurich","surface_area":1,"forcing":[{"id":"X","type":"meteoswiss_meteostation"}]}]`,
			"invalid key",
		},
		{
			"not a list",
			`{"key": "a"}`,
			"decoding",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeRegistry(t, tt.content), known)
			var regErr *RegistryError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected RegistryError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	var regErr *RegistryError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected RegistryError, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	reg, err := Load(writeRegistry(t, lakesJSON), known)
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Get("zurich")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Key != "zurich" {
		t.Errorf("expected NotFoundError for zurich, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	reg, err := Load(writeRegistry(t, lakesJSON), known)
	if err != nil {
		t.Fatal(err)
	}

	all, _ := reg.Select(nil)
	if len(all) != 2 {
		t.Errorf("Select(nil) = %d lakes", len(all))
	}

	some, err := reg.Select([]string{"hallwil", "hallwil"})
	if err != nil || len(some) != 1 {
		t.Errorf("Select(dup) = %v, %v", some, err)
	}

	if _, err := reg.Select([]string{"hallwil", "zurich"}); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLakesAreCopies(t *testing.T) {
	entries := []domain.LakeParameters{{
		Key:          "greifensee",
		SurfaceArea:  8.5,
		Coefficients: map[string]float64{"a_seiche": 0.001},
		Forcing:      []domain.ForcingBinding{{ID: "SMA", Type: "meteoswiss_meteostation"}},
		Bathymetry:   &domain.Bathymetry{Depth: []float64{0, 32}, Area: []float64{8.5e6, 0}},
	}}
	reg, err := New("mem", entries, known)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Coefficients["a_seiche"] = 42

	got, _ := reg.Get("greifensee")
	got.Coefficients["a_seiche"] = 99
	got.Forcing[0].ID = "XXX"
	got.Bathymetry.Depth[1] = 1
	listed := reg.List()
	listed[0].Forcing[0].ID = "YYY"

	again, _ := reg.Get("greifensee")
	if again.Coefficients["a_seiche"] != 0.001 {
		t.Errorf("coefficient = %v, want 0.001", again.Coefficients["a_seiche"])
	}
	if again.Forcing[0].ID != "SMA" {
		t.Errorf("binding id = %q, want SMA", again.Forcing[0].ID)
	}
	if again.Bathymetry.Depth[1] != 32 {
		t.Errorf("depth = %v, want 32", again.Bathymetry.Depth[1])
	}
}

func TestRoundTrip(t *testing.T) {
	reg, err := Load(writeRegistry(t, lakesJSON), known)
	if err != nil {
		t.Fatal(err)
	}
	data, err := reg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	again, err := Parse("roundtrip.yaml", data, known)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if diff := cmp.Diff(reg.List(), again.List()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := writeRegistry(t, lakesJSON)
	w, err := NewWatcher(path, known, logging.Discard())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Registry, 1)
	w.SetOnReload(func(r *Registry) { reloaded <- r })

	// invalid content is rejected and the old registry stays
	if err := os.WriteFile(path, []byte(`[{"key":"a"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	w.Reload()
	if w.Current().Len() != 2 {
		t.Errorf("invalid reload replaced registry")
	}

	single := `[{"key":"aegeri","surface_area":7.3,"forcing":[{"id":"EGI","type":"meteoswiss_meteostation"}]}]`
	if err := os.WriteFile(path, []byte(single), 0644); err != nil {
		t.Fatal(err)
	}
	w.Reload()

	select {
	case r := <-reloaded:
		if r.Len() != 1 {
			t.Errorf("reloaded Len() = %d, want 1", r.Len())
		}
	case <-time.After(time.Second):
		t.Fatal("reload callback not called")
	}
	if _, err := w.Current().Get("aegeri"); err != nil {
		t.Errorf("Current() missing aegeri: %v", err)
	}
}
