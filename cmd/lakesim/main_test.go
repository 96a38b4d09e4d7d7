package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/forcing"
	"github.com/hochfrequenz/lake-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/lake-orchestrator/internal/registry"
)

func TestSplitRunArgs(t *testing.T) {
	tests := []struct {
		name      string
		in        []string
		wantBase  string
		wantNames []string
		wantErr   bool
	}{
		{"base only", []string{"operational"}, "operational", nil, false},
		{"overrides", []string{"operational", "lakes=greifensee,hallwil", "publish=false"}, "operational", []string{"lakes", "publish"}, false},
		{"missing base", nil, "", nil, true},
		{"malformed override", []string{"operational", "publish"}, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, overrides, err := splitRunArgs(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitRunArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, args.ErrConfiguration) {
					t.Errorf("error %v is not a configuration error", err)
				}
				return
			}
			if base != tt.wantBase {
				t.Errorf("base = %q, want %q", base, tt.wantBase)
			}
			var names []string
			for _, o := range overrides {
				names = append(names, o.Key)
			}
			if diff := cmp.Diff(tt.wantNames, names); diff != "" {
				t.Errorf("override names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrintReport(t *testing.T) {
	start := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	report := domain.NewBatchReport("3f2c9a1e-0000", "operational", start, start.Add(90*time.Second), []domain.RunRecord{
		{LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureAssembly, Error: "missing air_temperature", FetchAttempts: 3},
		{LakeKey: "greifensee", State: domain.StatePublished, FetchAttempts: 8, PublishAttempts: 1},
	})

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	for _, want := range []string{
		"batch 3f2c9a1e-0000 (operational)",
		"1 published",
		"1 failed",
		"assembly: missing air_temperature",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "greifensee") > strings.Index(out, "hallwil") {
		t.Errorf("records not in key order:\n%s", out)
	}
}

func TestPrintKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := printKeys(&buf, nil); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, k := range args.Schema() {
		if !strings.Contains(out, k.Name) {
			t.Errorf("key %s missing from listing", k.Name)
		}
	}
}

func TestPrintKeys_Named(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		want    []string
		wantErr bool
	}{
		{"single", []string{"retry_limit"}, []string{"retry_limit"}, false},
		{"order kept", []string{"run_timeout", "retry_limit"}, []string{"run_timeout", "retry_limit"}, false},
		{"unknown", []string{"retry_limit", "bogus"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printKeys(&buf, tt.keys)
			if tt.wantErr {
				if !errors.Is(err, args.ErrConfiguration) {
					t.Fatalf("err = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			var got []string
			for _, line := range lines[1:] {
				got = append(got, strings.Fields(line)[0])
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("listed keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailureText(t *testing.T) {
	ok := domain.RunRecord{State: domain.StatePublished}
	if got := failureText(ok); got != "" {
		t.Errorf("failureText(published) = %q, want empty", got)
	}

	long := domain.RunRecord{State: domain.StateFailed, FailureKind: domain.FailureEngine, Error: strings.Repeat("x", 100)}
	got := failureText(long)
	if !strings.HasPrefix(got, "engine: ") || !strings.HasSuffix(got, "...") {
		t.Errorf("failureText() = %q", got)
	}
	if len(got) != len("engine: ")+60 {
		t.Errorf("len = %d, want %d", len(got), len("engine: ")+60)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	sink := progressPrinter(&buf)
	at := time.Date(2024, 5, 1, 2, 0, 0, 0, time.Local)

	sink.Emit(orchestrator.Event{Type: orchestrator.EventBatchStarted, BatchID: "b1", At: at})
	sink.Emit(orchestrator.Event{Type: orchestrator.EventRunState, LakeKey: "greifensee", State: domain.StateAssembling, At: at})
	sink.Emit(orchestrator.Event{Type: orchestrator.EventRunState, LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureAssembly, At: at})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "greifensee") || !strings.HasSuffix(lines[0], "assembling") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "failed (assembly)") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestPrintLakes(t *testing.T) {
	adapter := forcing.NewDefaultAdapter("", time.Second, "lakesim-test")
	reg, err := registry.Parse("lakes.yaml", []byte(`
- key: hallwil
  name: Hallwilersee
  elevation: 449
  surface_area: 10.3
  max_depth: 47
  latitude: 47.277
  longitude: 8.217
  forcing:
    - {id: BUS, type: meteoswiss_meteostation}
`), adapter)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printLakes(&buf, reg, adapter.Types()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"hallwil", "Hallwilersee", "1 lakes in lakes.yaml", "binding types: bafu_hydrostation, meteoswiss/cosmo, meteoswiss/icon, meteoswiss_meteostation"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}

	data, err := reg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := registry.Parse("lakes.yaml", data, adapter)
	if err != nil {
		t.Fatalf("marshalled registry does not parse: %v\n%s", err, data)
	}
	if diff := cmp.Diff(reg.List(), again.List()); diff != "" {
		t.Errorf("registry changed through Marshal (-want +got):\n%s", diff)
	}
}
