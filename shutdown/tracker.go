// Package shutdown coordinates graceful shutdown of fluxserve: ordered
// cleanup handlers, in-flight request tracking, double-signal force exit
// and removal of leftover output artifacts.
package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTrackerClosed is returned when an operation starts after shutdown began.
	ErrTrackerClosed = errors.New("shutdown: not accepting new operations")

	// ErrWaitTimeout is returned when in-flight operations outlive the wait.
	ErrWaitTimeout = errors.New("shutdown: operations still running after timeout")
)

// OperationTracker counts in-flight operations and lets shutdown wait for
// them. Once closed it rejects new operations.
type OperationTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	active atomic.Int64
}

// NewOperationTracker returns an open tracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{}
}

// Start registers one operation. It returns false after Close; otherwise the
// caller must call Done.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active.Add(1)
	return true
}

// Done ends one operation started with Start.
func (t *OperationTracker) Done() {
	t.active.Add(-1)
	t.wg.Done()
}

// Close stops new operations from starting.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every operation is done or timeout passes.
func (t *OperationTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// ActiveCount returns the number of running operations.
func (t *OperationTracker) ActiveCount() int64 {
	return t.active.Load()
}

// IsClosed reports whether Close was called.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
