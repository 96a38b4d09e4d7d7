package orchestrator

import (
	"context"
	"sync"
)

// Pool bounds how many lakes are processed at once
type Pool struct {
	size           int
	slots          chan struct{}
	mu             sync.Mutex
	onSlotsChanged func(available int)
}

// NewPool creates a pool with the given capacity. Sizes below one are
// raised to one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:  size,
		slots: make(chan struct{}, size),
	}
}

// SetOnSlotsChanged sets a callback invoked after every acquire and release
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.slots <- struct{}{}:
		p.notify()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the pool. Releasing an idle pool is a no-op.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
		return
	}
	p.notify()
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return p.size - len(p.slots)
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) notify() {
	p.mu.Lock()
	callback := p.onSlotsChanged
	p.mu.Unlock()

	// Outside the lock so the callback may query the pool
	if callback != nil {
		callback(p.Available())
	}
}
