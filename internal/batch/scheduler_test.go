package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"@daily", false},
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestBatchConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BatchConfig
		wantErr bool
		timeout time.Duration
	}{
		{"valid", BatchConfig{Name: "nightly", Cron: "0 22 * * *", Base: "operational", MaxDuration: "8h"}, false, 8 * time.Hour},
		{"default duration", BatchConfig{Name: "nightly", Cron: "0 22 * * *", Base: "operational"}, false, DefaultMaxDuration},
		{"empty name", BatchConfig{Cron: "0 22 * * *", Base: "operational"}, true, 0},
		{"no base", BatchConfig{Name: "nightly", Cron: "0 22 * * *"}, true, 0},
		{"bad override", BatchConfig{Name: "nightly", Cron: "0 22 * * *", Base: "operational", Overrides: []string{"forecast"}}, true, 0},
		{"bad duration", BatchConfig{Name: "nightly", Cron: "0 22 * * *", Base: "operational", MaxDuration: "soon"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.cfg.Timeout() != tt.timeout {
				t.Errorf("Timeout() = %s, want %s", tt.cfg.Timeout(), tt.timeout)
			}
		})
	}
}

func TestParseScheduleConfig(t *testing.T) {
	data := []byte(`
[[batch]]
name = "operational"
cron = "0 3 * * *"
base = "operational"
overrides = ["forecast=true", "max_parallel_lakes=4"]
max_duration = "6h"

[[batch]]
name = "hindcast"
cron = "@weekly"
base = "hindcast"
disabled = true
`)
	cfg, err := ParseScheduleConfig(data)
	if err != nil {
		t.Fatalf("ParseScheduleConfig() error = %v", err)
	}
	if len(cfg.Batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(cfg.Batches))
	}
	if diff := cmp.Diff([]string{"forecast=true", "max_parallel_lakes=4"}, cfg.Batches[0].Overrides); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
	if cfg.Batches[0].Timeout() != 6*time.Hour {
		t.Errorf("Timeout() = %s", cfg.Batches[0].Timeout())
	}

	sched, err := NewScheduler(cfg.Batches)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"operational"}, sched.ListBatches()); diff != "" {
		t.Errorf("disabled batch scheduled (-want +got):\n%s", diff)
	}

	dup := append(data, []byte("\n[[batch]]\nname = \"operational\"\ncron = \"@daily\"\nbase = \"x\"\n")...)
	if _, err := ParseScheduleConfig(dup); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestLoadScheduleConfig_Missing(t *testing.T) {
	cfg, err := LoadScheduleConfig(t.TempDir() + "/schedule.toml")
	if err != nil || len(cfg.Batches) != 0 {
		t.Errorf("LoadScheduleConfig() = %+v, %v; want empty schedule", cfg, err)
	}
}

func TestBatchScheduler_NextRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local)
	cfg := BatchConfig{Name: "test", Cron: "0 22 * * *", Base: "operational"}

	sched, err := NewScheduler([]BatchConfig{cfg}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	want := time.Date(2024, 5, 1, 22, 0, 0, 0, time.Local)
	if next := sched.NextRun("test"); !next.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", next, want)
	}
	if !sched.NextRun("unknown").IsZero() {
		t.Error("NextRun for unknown batch should be zero")
	}
}

func TestBatchScheduler_ShouldRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 22, 0, 30, 0, time.Local)
	clock := func() time.Time { return now }
	cfg := BatchConfig{Name: "test", Cron: "0 22 * * *", Base: "operational"}

	sched, err := NewScheduler([]BatchConfig{cfg}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	if !sched.ShouldRun("test") {
		t.Error("should run at the scheduled minute")
	}

	sched.MarkRunning("test")
	if sched.ShouldRun("test") {
		t.Error("should not overlap with a running batch")
	}

	sched.MarkComplete("test")
	if sched.ShouldRun("test") {
		t.Error("should not run again until the next schedule")
	}

	now = now.Add(24 * time.Hour)
	if !sched.ShouldRun("test") {
		t.Error("should run on the following day")
	}
}

func TestBatchScheduler_StartRunsDueBatches(t *testing.T) {
	cfg := BatchConfig{Name: "often", Cron: "* * * * *", Base: "operational", MaxDuration: "1m"}
	now := time.Date(2024, 5, 1, 22, 0, 0, 5e6, time.Local)
	sched, err := NewScheduler([]BatchConfig{cfg},
		WithClock(func() time.Time { return now }),
		WithTick(10*time.Millisecond),
		WithLogger(logging.Discard()),
	)
	if err != nil {
		t.Fatal(err)
	}

	var (
		runs     atomic.Int32
		once     sync.Once
		deadline time.Time
	)
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx, func(runCtx context.Context, c BatchConfig) error {
		runs.Add(1)
		once.Do(func() { deadline, _ = runCtx.Deadline() })
		cancel()
		return nil
	})

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if deadline.IsZero() {
		t.Error("run context should carry max_duration")
	}
}
