package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

func TestStore_BatchLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := Batch{ID: "b1", BaseName: "operational", Arguments: map[string]string{"run": "false"}, StartedAt: t0, Total: 2}
	if err := store.CreateBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateBatch(ctx, batch); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second CreateBatch error = %v, want ErrDuplicate", err)
	}

	got, err := store.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Running() || got.Arguments["run"] != "false" || !got.StartedAt.Equal(t0) {
		t.Errorf("GetBatch() = %+v", got)
	}

	finished := t0.Add(time.Hour)
	records := []domain.RunRecord{
		{BatchID: "b1", LakeKey: "hallwil", State: domain.StatePublished, UpdatedAt: finished},
		{BatchID: "b1", LakeKey: "aegeri", State: domain.StateFailed, FailureKind: domain.FailureEngine, UpdatedAt: finished},
	}
	report := domain.NewBatchReport("b1", "operational", t0, finished, records)
	if err := store.FinishBatch(ctx, report); err != nil {
		t.Fatal(err)
	}

	got, _ = store.GetBatch(ctx, "b1")
	if got.Running() || got.Published != 1 || got.Failed != 1 || got.Total != 2 {
		t.Errorf("finished batch = %+v", got)
	}
}

func TestStore_GetBatchNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetBatch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := store.LatestBatch(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestBatch error = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveRunUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.CreateBatch(ctx, Batch{ID: "b1", BaseName: "operational", StartedAt: t0})

	rec := domain.NewRunRecord("b1", "greifensee", t0)
	rec.Transition(domain.StateAssembling, t0.Add(time.Minute))
	if err := store.SaveRun(ctx, rec.Clone()); err != nil {
		t.Fatal(err)
	}

	rec.Transition(domain.StateFailed, t0.Add(2*time.Minute))
	rec.FailureKind = domain.FailureAssembly
	rec.Error = "missing solar_radiation"
	rec.FetchAttempts = 9
	rec.ArtifactPaths = []string{"/runs/greifensee/bundle.json"}
	if err := store.SaveRun(ctx, rec.Clone()); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns() = %d records, want 1", len(runs))
	}
	if diff := cmp.Diff(rec.Clone(), runs[0]); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ListBatchesAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, id := range []string{"b1", "b2", "b3"} {
		started := t0.Add(time.Duration(i) * 24 * time.Hour)
		store.CreateBatch(ctx, Batch{ID: id, BaseName: "operational", StartedAt: started})
		store.SaveRun(ctx, domain.RunRecord{BatchID: id, LakeKey: "hallwil", State: domain.StatePublished, UpdatedAt: started})
	}

	batches, err := store.ListBatches(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 || batches[0].ID != "b3" {
		t.Errorf("ListBatches() = %+v", batches)
	}

	latest, _ := store.LatestBatch(ctx)
	if latest.ID != "b3" {
		t.Errorf("LatestBatch() = %s", latest.ID)
	}

	history, err := store.LakeHistory(ctx, "hallwil", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || history[0].BatchID != "b3" {
		t.Errorf("LakeHistory() = %+v", history)
	}
}

func TestStore_Report(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.CreateBatch(ctx, Batch{ID: "b1", BaseName: "operational", StartedAt: t0})
	store.SaveRun(ctx, domain.RunRecord{BatchID: "b1", LakeKey: "zurich", State: domain.StatePublished, UpdatedAt: t0})
	store.SaveRun(ctx, domain.RunRecord{BatchID: "b1", LakeKey: "aegeri", State: domain.StateFailed, FailureKind: domain.FailureTimeout, Error: "timed out", UpdatedAt: t0})

	report, err := store.Report(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Records[0].LakeKey != "aegeri" || report.ExitCode() != 1 {
		t.Errorf("Report() = %+v", report)
	}
	if report.Failures[0].Kind != domain.FailureTimeout {
		t.Errorf("Failures = %+v", report.Failures)
	}
}

func TestWriter_FlushesOnStop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.CreateBatch(ctx, Batch{ID: "b1", BaseName: "operational", StartedAt: t0})

	w := NewWriter(store, logging.Discard())
	for _, state := range []domain.RunState{domain.StatePending, domain.StateAssembling, domain.StateAssembled} {
		w.Save(domain.RunRecord{BatchID: "b1", LakeKey: "hallwil", State: state, UpdatedAt: t0})
	}
	w.Stop()

	runs, _ := store.ListRuns(ctx, "b1")
	if len(runs) != 1 || runs[0].State != domain.StateAssembled {
		t.Errorf("runs after Stop = %+v", runs)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{postgres: true}
	if got := pg.rebind("SELECT * FROM runs WHERE a = ? AND b = ?"); got != "SELECT * FROM runs WHERE a = $1 AND b = $2" {
		t.Errorf("rebind() = %q", got)
	}
	lite := &Store{}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
