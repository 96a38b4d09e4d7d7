package domain

import (
	"fmt"
	"sort"
	"time"
)

// RunRecord tracks one lake through a batch
type RunRecord struct {
	BatchID         string      `json:"batch_id"`
	LakeKey         string      `json:"lake_key"`
	State           RunState    `json:"state"`
	FetchAttempts   int         `json:"fetch_attempts"`
	PublishAttempts int         `json:"publish_attempts"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	FailureKind     FailureKind `json:"failure_kind,omitempty"`
	Error           string      `json:"error,omitempty"`
	Diagnostics     string      `json:"diagnostics,omitempty"`
	ArtifactPaths   []string    `json:"artifact_paths,omitempty"`
	WorkDir         string      `json:"work_dir,omitempty"`
	BundleDigest    string      `json:"bundle_digest,omitempty"`
}

// NewRunRecord creates a pending record.
func NewRunRecord(batchID, lakeKey string, now time.Time) *RunRecord {
	return &RunRecord{
		BatchID:   batchID,
		LakeKey:   lakeKey,
		State:     StatePending,
		UpdatedAt: now,
	}
}

// IllegalTransitionError is returned when a state change skips the pipeline order
type IllegalTransitionError struct {
	LakeKey string
	From    RunState
	To      RunState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("lake %s: illegal transition %s -> %s", e.LakeKey, e.From, e.To)
}

// Transition moves the record to next, stamping times.
func (r *RunRecord) Transition(next RunState, now time.Time) error {
	if !r.State.CanTransition(next) {
		return &IllegalTransitionError{LakeKey: r.LakeKey, From: r.State, To: next}
	}
	if r.State == StatePending {
		started := now
		r.StartedAt = &started
	}
	r.State = next
	r.UpdatedAt = now
	if next.Terminal() {
		finished := now
		r.FinishedAt = &finished
	}
	return nil
}

// Fail moves the record to StateFailed with a classified cause.
func (r *RunRecord) Fail(kind FailureKind, cause error, now time.Time) error {
	if err := r.Transition(StateFailed, now); err != nil {
		return err
	}
	r.FailureKind = kind
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}

// Finish stamps FinishedAt on a record that stops in a non-terminal state
// (Succeeded with publication disabled).
func (r *RunRecord) Finish(now time.Time) {
	if r.FinishedAt == nil {
		finished := now
		r.FinishedAt = &finished
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *RunRecord) Clone() RunRecord {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.ArtifactPaths = append([]string(nil), r.ArtifactPaths...)
	return c
}

// Failure summarises one failed lake in a report
type Failure struct {
	LakeKey string      `json:"lake_key"`
	Kind    FailureKind `json:"kind"`
	Cause   string      `json:"cause"`
}

// BatchReport is produced once at the end of every batch
type BatchReport struct {
	BatchID    string           `json:"batch_id"`
	BaseName   string           `json:"base_name"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Records    []RunRecord      `json:"records"`
	Counts     map[RunState]int `json:"counts"`
	Failures   []Failure        `json:"failures,omitempty"`
}

// NewBatchReport builds a report from final records, sorted by lake key.
func NewBatchReport(batchID, base string, started, finished time.Time, records []RunRecord) *BatchReport {
	sorted := append([]RunRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LakeKey < sorted[j].LakeKey })

	report := &BatchReport{
		BatchID:    batchID,
		BaseName:   base,
		StartedAt:  started,
		FinishedAt: finished,
		Records:    sorted,
		Counts:     make(map[RunState]int),
	}
	for _, rec := range sorted {
		report.Counts[rec.State]++
		if rec.State == StateFailed {
			report.Failures = append(report.Failures, Failure{
				LakeKey: rec.LakeKey,
				Kind:    rec.FailureKind,
				Cause:   rec.Error,
			})
		}
	}
	return report
}

// Failed reports whether any lake failed.
func (b *BatchReport) Failed() bool {
	return len(b.Failures) > 0
}

// ExitCode is 1 when any lake failed, 0 otherwise.
func (b *BatchReport) ExitCode() int {
	if b.Failed() {
		return 1
	}
	return 0
}

// Duration returns the wall-clock time of the batch.
func (b *BatchReport) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}
