// Package notify tells people that a batch has finished.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification is one message about a batch. Channels that can show
// structure render Counts and Failures; the rest use Message.
type Notification struct {
	Title    string
	Message  string
	Type     NotificationType
	BatchID  string
	BaseName string
	Duration time.Duration
	Counts   []StateCount
	Failures []domain.Failure
}

// StateCount is the number of lakes that ended in State
type StateCount struct {
	State domain.RunState
	N     int
}

// finalStates are reported in this order.
var finalStates = []domain.RunState{domain.StatePublished, domain.StateSucceeded, domain.StateFailed}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// FromReport summarises a finished batch. A batch where every lake failed
// is an error, a partial failure a warning.
func FromReport(r *domain.BatchReport) Notification {
	total := len(r.Records)
	failed := r.Counts[domain.StateFailed]
	n := Notification{
		BatchID:  r.BatchID,
		BaseName: r.BaseName,
		Duration: r.Duration().Round(time.Second),
		Title:    fmt.Sprintf("Batch %s finished", r.BaseName),
		Message:  fmt.Sprintf("%d of %d lakes ok in %s", total-failed, total, r.Duration().Round(time.Second)),
		Type:     NotifySuccess,
		Failures: append([]domain.Failure(nil), r.Failures...),
	}
	for _, st := range finalStates {
		if c := r.Counts[st]; c > 0 {
			n.Counts = append(n.Counts, StateCount{State: st, N: c})
		}
	}
	if failed == 0 {
		return n
	}

	keys := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		keys[i] = fmt.Sprintf("%s (%s)", f.LakeKey, f.Kind)
	}
	n.Message += "; failed: " + strings.Join(keys, ", ")
	n.Type = NotifyWarning
	if failed == total {
		n.Title = fmt.Sprintf("Batch %s failed", r.BaseName)
		n.Type = NotifyError
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FailuresOnly drops notifications about fully successful batches
type FailuresOnly struct {
	Next Notifier
}

// Send forwards warnings and errors.
func (f FailuresOnly) Send(n Notification) error {
	if n.Type != NotifyWarning && n.Type != NotifyError {
		return nil
	}
	return f.Next.Send(n)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
