// Package orchestrator runs a batch: every selected lake goes through
// assembly, engine execution and publication on a bounded worker pool, and
// the batch ends with a report covering every lake.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/assemble"
	"github.com/hochfrequenz/lake-orchestrator/internal/config"
	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/engine"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/notify"
	"github.com/hochfrequenz/lake-orchestrator/internal/publish"
	"github.com/hochfrequenz/lake-orchestrator/internal/retry"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

// RunStampLayout formats the batch start time used in published object keys.
const RunStampLayout = "20060102T150405Z"

// LakeSource resolves lake keys against the registry
type LakeSource interface {
	Select(keys []string) ([]domain.LakeParameters, error)
}

// Executor runs the engine on an assembled bundle
type Executor interface {
	Execute(ctx context.Context, bundle *assemble.InputBundle, cfg args.RunConfiguration) (*engine.Outcome, error)
}

// Orchestrator runs batches. One Orchestrator may run several batches, one
// after the other or concurrently.
type Orchestrator struct {
	lakes     LakeSource
	fetcher   assemble.Fetcher
	executor  Executor
	storage   config.StorageConfig
	store     *runstore.Store
	publisher publish.Publisher
	notifier  notify.Notifier
	sink      EventSink
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStore persists batches and run records.
func WithStore(s *runstore.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithStorage sets the credentials used to reach object-store destinations.
func WithStorage(s config.StorageConfig) Option {
	return func(o *Orchestrator) { o.storage = s }
}

// WithPublisher replaces the publisher built from the destination argument.
func WithPublisher(p publish.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithNotifier sends a notification when a batch finishes.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithEvents streams state changes to sink.
func WithEvents(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(lakes LakeSource, fetcher assemble.Fetcher, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lakes:    lakes,
		fetcher:  fetcher,
		executor: executor,
		notifier: notify.NoopNotifier{},
		sink:     discardSink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// batch holds what the lake tasks of one batch share
type batch struct {
	id        string
	stamp     string
	cfg       args.RunConfiguration
	assembler *assemble.Assembler
	publisher publish.Publisher
	budget    *retry.Budget
	journal   *runstore.Writer
}

// Run executes one batch. Configuration and registry errors are returned
// before any lake starts; per-lake failures only show up in the report.
// Cancelling ctx stops dispatch; lakes already running finish under their
// own timeouts.
func (o *Orchestrator) Run(ctx context.Context, cfg args.RunConfiguration) (*domain.BatchReport, error) {
	lakes, err := o.lakes.Select(cfg.Lakes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", args.ErrConfiguration, err)
	}

	publisher := o.publisher
	if cfg.Publish && publisher == nil {
		publisher, err = publish.New(ctx, cfg.Destination, o.storage)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", args.ErrConfiguration, err)
		}
	}

	started := o.now().UTC()
	budget := retry.NewBudget(cfg.RetryBudget)
	b := &batch{
		id:        uuid.NewString(),
		stamp:     started.Format(RunStampLayout),
		cfg:       cfg,
		assembler: assemble.New(o.fetcher, budget, assemble.WithClock(o.now)),
		publisher: publisher,
		budget:    budget,
	}

	logger := logging.FromContext(ctx).With("batch", b.id)
	ctx = logging.WithLogger(ctx, logger)

	if o.store != nil {
		if err := o.store.CreateBatch(ctx, runstore.Batch{
			ID:        b.id,
			BaseName:  cfg.BaseName,
			Arguments: arguments(cfg),
			StartedAt: started,
			Total:     len(lakes),
		}); err != nil {
			return nil, fmt.Errorf("recording batch: %w", err)
		}
		b.journal = runstore.NewWriter(o.store, logger)
	}

	logger.Info("batch started", "base", cfg.BaseName, "lakes", len(lakes), "parallel", cfg.MaxParallelLakes, "stamp", b.stamp)
	o.sink.Emit(Event{Type: EventBatchStarted, BatchID: b.id, At: started, Total: len(lakes)})

	records := make([]*domain.RunRecord, len(lakes))
	for i, lake := range lakes {
		records[i] = domain.NewRunRecord(b.id, lake.Key, started)
		o.save(b, records[i])
	}

	// Lake tasks outlive a cancelled ctx; only dispatch stops.
	taskCtx := context.WithoutCancel(ctx)
	pool := NewPool(cfg.MaxParallelLakes)
	pool.SetOnSlotsChanged(func(available int) {
		logger.Debug("worker slots changed", "available", available, "size", pool.Size())
	})
	var wg sync.WaitGroup
	dispatched := 0
	for i, lake := range lakes {
		if err := pool.Acquire(ctx); err != nil {
			logger.Warn("dispatch stopped", "error", err, "remaining", len(lakes)-i)
			break
		}
		dispatched++
		wg.Add(1)
		go func(rec *domain.RunRecord, lake domain.LakeParameters) {
			defer wg.Done()
			defer pool.Release()
			o.runLake(taskCtx, b, rec, lake)
		}(records[i], lake)
	}
	wg.Wait()

	for _, rec := range records[dispatched:] {
		lctx := logging.WithLogger(ctx, logger.With("lake", rec.LakeKey))
		o.fail(lctx, b, rec, domain.FailureCancelled, fmt.Errorf("batch cancelled before lake %s started", rec.LakeKey))
	}

	finished := o.now().UTC()
	final := make([]domain.RunRecord, len(records))
	for i, rec := range records {
		final[i] = rec.Clone()
	}
	report := domain.NewBatchReport(b.id, cfg.BaseName, started, finished, final)

	if b.journal != nil {
		b.journal.Stop()
		if err := o.store.FinishBatch(taskCtx, report); err != nil {
			logger.Warn("failed to record batch result", "error", err)
		}
	}

	o.sink.Emit(Event{Type: EventBatchFinished, BatchID: b.id, At: finished, Total: len(records), Failed: len(report.Failures)})
	if err := o.notifier.Send(notify.FromReport(report)); err != nil {
		logger.Warn("batch notification failed", "error", err)
	}

	logger.Info("batch finished",
		"published", report.Counts[domain.StatePublished],
		"succeeded", report.Counts[domain.StateSucceeded],
		"failed", report.Counts[domain.StateFailed],
		"elapsed", report.Duration().Round(time.Second),
		"retry_budget_left", b.budget.Remaining(),
	)
	if report.Failed() {
		failed := make([]string, len(report.Failures))
		for i, f := range report.Failures {
			failed[i] = f.LakeKey
		}
		logger.Warn("lakes failed", "lakes", failed)
	}
	return report, nil
}

// runLake drives one record through the pipeline. It never returns an
// error: every failure ends up on the record.
func (o *Orchestrator) runLake(ctx context.Context, b *batch, rec *domain.RunRecord, lake domain.LakeParameters) {
	logger := logging.FromContext(ctx).With("lake", lake.Key)
	ctx = logging.WithLogger(ctx, logger)

	if !o.advance(ctx, b, rec, domain.StateAssembling) {
		return
	}
	bundle, err := b.assembler.Assemble(ctx, lake, b.cfg)
	if err != nil {
		var ae *assemble.AssemblyError
		if errors.As(err, &ae) {
			rec.FetchAttempts = ae.Attempts
		}
		o.fail(ctx, b, rec, classify(err, domain.FailureAssembly), err)
		return
	}
	rec.FetchAttempts = bundle.FetchAttempts
	digest, err := bundle.Digest()
	if err != nil {
		o.fail(ctx, b, rec, domain.FailureAssembly, &assemble.AssemblyError{LakeKey: lake.Key, Reason: err.Error(), Attempts: bundle.FetchAttempts})
		return
	}
	rec.BundleDigest = digest
	if !o.advance(ctx, b, rec, domain.StateAssembled) {
		return
	}

	if !o.advance(ctx, b, rec, domain.StateRunning) {
		return
	}
	outcome, err := o.executor.Execute(ctx, bundle, b.cfg)
	if err != nil {
		rec.Diagnostics = diagnostics(err)
		if outcome != nil {
			rec.WorkDir = outcome.WorkDir
		}
		o.fail(ctx, b, rec, classify(err, domain.FailureEngine), err)
		return
	}
	rec.WorkDir = outcome.WorkDir
	rec.ArtifactPaths = append([]string(nil), outcome.ArtifactPaths...)
	rec.Diagnostics = outcome.Diagnostics
	if !o.advance(ctx, b, rec, domain.StateSucceeded) {
		return
	}

	if !b.cfg.Publish {
		rec.Finish(o.now().UTC())
		o.save(b, rec)
		logger.Info("lake finished", "status", outcome.Status, "duration", outcome.Duration.Round(time.Second))
		return
	}

	attempts, err := publish.WithRetry(ctx, b.publisher, b.cfg.PublishPolicy(), b.budget, lake.Key, b.stamp, rec.ArtifactPaths)
	rec.PublishAttempts = attempts
	if err != nil {
		o.fail(ctx, b, rec, classify(err, domain.FailurePublish), err)
		return
	}
	if o.advance(ctx, b, rec, domain.StatePublished) {
		logger.Info("lake published", "destination", b.publisher.String(), "files", len(rec.ArtifactPaths))
	}
}

// advance applies a transition and reports whether the pipeline may go on.
func (o *Orchestrator) advance(ctx context.Context, b *batch, rec *domain.RunRecord, next domain.RunState) bool {
	if err := rec.Transition(next, o.now().UTC()); err != nil {
		logging.FromContext(ctx).Error("rejected state change", "error", err)
		return false
	}
	logging.FromContext(ctx).Debug("state changed", "state", next)
	o.save(b, rec)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, b *batch, rec *domain.RunRecord, kind domain.FailureKind, cause error) {
	if err := rec.Fail(kind, cause, o.now().UTC()); err != nil {
		logging.FromContext(ctx).Error("rejected failure", "error", err)
		return
	}
	logging.FromContext(ctx).Warn("lake failed", "kind", kind, "error", cause)
	o.save(b, rec)
}

// save hands a copy of rec to the journal and the event sink.
func (o *Orchestrator) save(b *batch, rec *domain.RunRecord) {
	snapshot := rec.Clone()
	if b.journal != nil {
		b.journal.Save(snapshot)
	}
	o.sink.Emit(Event{
		Type:        EventRunState,
		BatchID:     snapshot.BatchID,
		LakeKey:     snapshot.LakeKey,
		State:       snapshot.State,
		FailureKind: snapshot.FailureKind,
		Error:       snapshot.Error,
		At:          snapshot.UpdatedAt,
	})
}

// classify maps a pipeline error to its failure kind, falling back to the
// kind of the stage that produced it.
func classify(err error, stage domain.FailureKind) domain.FailureKind {
	var (
		assembly *assemble.AssemblyError
		timeout  *engine.TimeoutError
		failure  *engine.EngineFailure
		pub      *publish.PublishError
	)
	switch {
	case errors.As(err, &timeout):
		return domain.FailureTimeout
	case errors.As(err, &failure):
		return domain.FailureEngine
	case errors.As(err, &pub):
		return domain.FailurePublish
	case errors.As(err, &assembly):
		return domain.FailureAssembly
	case errors.Is(err, args.ErrConfiguration):
		return domain.FailureConfiguration
	case errors.Is(err, context.Canceled):
		return domain.FailureCancelled
	}
	return stage
}

func diagnostics(err error) string {
	var (
		timeout *engine.TimeoutError
		failure *engine.EngineFailure
	)
	switch {
	case errors.As(err, &timeout):
		return timeout.Diagnostics
	case errors.As(err, &failure):
		return failure.Diagnostics
	}
	return ""
}

func arguments(cfg args.RunConfiguration) map[string]string {
	values := cfg.Values()
	out := make(map[string]string, len(values))
	for _, kv := range values {
		out[kv.Key] = kv.Value
	}
	return out
}

// Summary renders a short human-readable line for a report.
func Summary(r *domain.BatchReport) string {
	return fmt.Sprintf("batch %s (%s): %d published, %d succeeded, %d failed in %s",
		r.BatchID, r.BaseName,
		r.Counts[domain.StatePublished],
		r.Counts[domain.StateSucceeded],
		r.Counts[domain.StateFailed],
		r.Duration().Round(time.Second),
	)
}
