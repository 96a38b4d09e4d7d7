package domain

// RunState represents the lifecycle state of a lake run
type RunState string

const (
	StatePending    RunState = "pending"
	StateAssembling RunState = "assembling"
	StateAssembled  RunState = "assembled"
	StateRunning    RunState = "running"
	StateSucceeded  RunState = "succeeded"
	StatePublished  RunState = "published"
	StateFailed     RunState = "failed"
)

var transitions = map[RunState][]RunState{
	StatePending:    {StateAssembling, StateFailed},
	StateAssembling: {StateAssembled, StateFailed},
	StateAssembled:  {StateRunning, StateFailed},
	StateRunning:    {StateSucceeded, StateFailed},
	StateSucceeded:  {StatePublished, StateFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s RunState) CanTransition(next RunState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal returns true for states that never change again.
func (s RunState) Terminal() bool {
	return s == StateFailed || s == StatePublished
}

// AllStates lists the states in pipeline order.
func AllStates() []RunState {
	return []RunState{
		StatePending, StateAssembling, StateAssembled, StateRunning,
		StateSucceeded, StatePublished, StateFailed,
	}
}

// FailureKind classifies why a lake ended in StateFailed
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureConfiguration FailureKind = "configuration"
	FailureAssembly      FailureKind = "assembly"
	FailureEngine        FailureKind = "engine"
	FailureTimeout       FailureKind = "timeout"
	FailurePublish       FailureKind = "publish"
	FailureCancelled     FailureKind = "cancelled"
)
