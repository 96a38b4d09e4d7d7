// Package retry holds the backoff policy shared by forcing fetches and
// publication, plus the process-wide retry budget.
package retry

import (
	"context"
	"sync/atomic"
	"time"
)

// Policy bounds retries of one operation
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         int
}

// Default policy values
const (
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 2 * time.Minute
	DefaultFactor         = 2
)

// NewPolicy returns a policy with the default factor and cap.
func NewPolicy(maxRetries int, initial time.Duration) Policy {
	return Policy{
		MaxRetries:     maxRetries,
		InitialBackoff: initial,
		MaxBackoff:     DefaultMaxBackoff,
		Factor:         DefaultFactor,
	}
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = DefaultFactor
	}
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(factor)
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// Budget caps the total number of retries across a whole batch.
// A nil Budget or one created with a non-positive limit is unbounded.
type Budget struct {
	remaining atomic.Int64
	limited   bool
}

// NewBudget creates a budget of n retries; n <= 0 means unbounded.
func NewBudget(n int) *Budget {
	b := &Budget{limited: n > 0}
	b.remaining.Store(int64(n))
	return b
}

// Take consumes one retry. Returns false when the budget is spent.
func (b *Budget) Take() bool {
	if b == nil || !b.limited {
		return true
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining returns the retries left, or -1 when unbounded.
func (b *Budget) Remaining() int {
	if b == nil || !b.limited {
		return -1
	}
	return int(b.remaining.Load())
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Do calls fn until it succeeds, returns a non-retryable error, the policy's
// retries are used up, the budget runs dry or ctx is done. It returns the
// number of attempts made and the last error.
func Do(ctx context.Context, p Policy, budget *Budget, retryable Classifier, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := 0
	for {
		err := fn(ctx, attempts)
		attempts++
		if err == nil {
			return attempts, nil
		}
		if retryable != nil && !retryable(err) {
			return attempts, err
		}
		retry := attempts - 1
		if retry >= p.MaxRetries || !budget.Take() {
			return attempts, err
		}

		timer := time.NewTimer(p.Backoff(retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, err
		case <-timer.C:
		}
	}
}
