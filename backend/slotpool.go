package backend

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// slotPool is a FIFO counting semaphore gating admission into one pipeline
// stage. Acquire returns a release function bound to the semaphore the slot
// came from, so a Resize never strands or double-frees held units: resizing
// swaps in a fresh semaphore for future acquisitions only.
type slotPool struct {
	mu  sync.Mutex
	sem *semaphore.Weighted
}

func newSlotPool(size int) *slotPool {
	if size < 1 {
		size = 1
	}
	return &slotPool{sem: semaphore.NewWeighted(int64(size))}
}

// Acquire blocks until a slot is free or ctx is cancelled. Waiters are
// served in FIFO order. The returned release function must be called on
// every exit path of the stage.
func (p *slotPool) Acquire(ctx context.Context) (release func(), err error) {
	p.mu.Lock()
	sem := p.sem
	p.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// Resize takes effect for the next acquisition; it never preempts slots
// already held.
func (p *slotPool) Resize(size int) {
	if size < 1 {
		size = 1
	}
	p.mu.Lock()
	p.sem = semaphore.NewWeighted(int64(size))
	p.mu.Unlock()
}
