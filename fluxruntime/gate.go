package fluxruntime

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits one caller at a time, in arrival order.
//
// The weighted semaphore queues blocked callers FIFO, so requests are served
// in the order they reached Acquire. The queue is unbounded.
type Gate struct {
	sem      *semaphore.Weighted
	waiting  atomic.Int64
	inFlight atomic.Int64
	admitted atomic.Int64
}

// NewGate returns an open gate with capacity one.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the caller is admitted. If ctx ends while the caller
// is still queued, Acquire returns ctx.Err() and the caller gives up its
// place. Once admitted the caller must call Release exactly once.
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.inFlight.Add(1)
	g.admitted.Add(1)
	return nil
}

// Release hands the slot to the next queued caller.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Waiting returns the number of callers queued behind the slot.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

// InFlight returns 1 while a caller holds the slot, else 0.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Admitted returns the total number of callers admitted so far.
func (g *Gate) Admitted() int64 {
	return g.admitted.Load()
}
