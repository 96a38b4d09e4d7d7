package orchestrator

import (
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// EventType distinguishes batch lifecycle events from run state changes
type EventType string

const (
	EventBatchStarted  EventType = "batch_started"
	EventRunState      EventType = "run_state"
	EventBatchFinished EventType = "batch_finished"
)

// Event is emitted for every state change of a batch or one of its lakes
type Event struct {
	Type        EventType          `json:"type"`
	BatchID     string             `json:"batch_id"`
	LakeKey     string             `json:"lake_key,omitempty"`
	State       domain.RunState    `json:"state,omitempty"`
	FailureKind domain.FailureKind `json:"failure_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	Total       int                `json:"total,omitempty"`
	Failed      int                `json:"failed,omitempty"`
	At          time.Time          `json:"at"`
}

// EventSink receives events. Emit is called from lake goroutines and must
// not block for long.
type EventSink interface {
	Emit(Event)
}

// EventFunc adapts a function to an EventSink
type EventFunc func(Event)

// Emit calls f(e).
func (f EventFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
