package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRunState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RunState
		want     bool
	}{
		{StatePending, StateAssembling, true},
		{StateAssembling, StateAssembled, true},
		{StateAssembling, StateFailed, true},
		{StateAssembled, StateRunning, true},
		{StateRunning, StateSucceeded, true},
		{StateSucceeded, StatePublished, true},
		{StateSucceeded, StateFailed, true},
		{StatePending, StateRunning, false},
		{StateAssembled, StateSucceeded, false},
		{StatePublished, StateFailed, false},
		{StateFailed, StatePending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRecord_Transition(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRunRecord("b1", "greifensee", now)

	for i, next := range []RunState{StateAssembling, StateAssembled, StateRunning, StateSucceeded, StatePublished} {
		if err := rec.Transition(next, now.Add(time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatalf("Transition(%s) failed: %v", next, err)
		}
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("StartedAt = %v, want first transition time", rec.StartedAt)
	}
	if rec.FinishedAt == nil {
		t.Error("FinishedAt should be set on terminal state")
	}

	err := rec.Transition(StateRunning, now)
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if illegal.From != StatePublished {
		t.Errorf("From = %s, want published", illegal.From)
	}
}

func TestRunRecord_Fail(t *testing.T) {
	now := time.Now()
	rec := NewRunRecord("b1", "hallwil", now)
	_ = rec.Transition(StateAssembling, now)

	if err := rec.Fail(FailureAssembly, errors.New("missing air_temperature"), now); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if rec.State != StateFailed || rec.FailureKind != FailureAssembly {
		t.Errorf("got state=%s kind=%s", rec.State, rec.FailureKind)
	}
	if rec.Error != "missing air_temperature" {
		t.Errorf("Error = %q", rec.Error)
	}
}

func TestNewBatchReport(t *testing.T) {
	now := time.Now()
	records := []RunRecord{
		{LakeKey: "zurich", State: StatePublished},
		{LakeKey: "aegeri", State: StateFailed, FailureKind: FailureEngine, Error: "exit 3"},
		{LakeKey: "hallwil", State: StateSucceeded},
	}

	report := NewBatchReport("b1", "operational", now, now.Add(time.Minute), records)

	if report.Records[0].LakeKey != "aegeri" || report.Records[2].LakeKey != "zurich" {
		t.Errorf("records not sorted: %v", report.Records)
	}
	if len(report.Failures) != 1 || report.Failures[0].Kind != FailureEngine {
		t.Errorf("Failures = %+v", report.Failures)
	}
	if report.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", report.ExitCode())
	}
	if report.Counts[StatePublished] != 1 || report.Counts[StateSucceeded] != 1 {
		t.Errorf("Counts = %v", report.Counts)
	}
	if report.Duration() != time.Minute {
		t.Errorf("Duration() = %v", report.Duration())
	}
}

func TestForcingBinding_Validate(t *testing.T) {
	tests := []struct {
		b       ForcingBinding
		wantErr bool
	}{
		{ForcingBinding{ID: "REH", Type: "meteoswiss_meteostation"}, false},
		{ForcingBinding{ID: "2099", Type: "bafu_hydrostation"}, false},
		{ForcingBinding{ID: "", Type: "meteoswiss_meteostation"}, true},
		{ForcingBinding{ID: "REH", Type: "Meteo Station"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.b.String(), func(t *testing.T) {
			if err := tt.b.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLakeParameters_WithDefaults(t *testing.T) {
	lake := LakeParameters{Key: "greifensee", Salinity: 0.2}.WithDefaults()
	if lake.ReferenceDate != DefaultReferenceDate || lake.ModelTimeResolution != 300 {
		t.Errorf("defaults not applied: %+v", lake)
	}
	if lake.Salinity != 0.2 {
		t.Errorf("Salinity overwritten: %v", lake.Salinity)
	}
	ref, err := lake.Reference()
	if err != nil || ref.Year() != 1981 {
		t.Errorf("Reference() = %v, %v", ref, err)
	}
}
