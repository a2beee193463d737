package db

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueCapacity is the buffer size of an AsyncWriter.
const DefaultQueueCapacity = 100

// WriteHandler persists one queued item.
type WriteHandler[T any] func(ctx context.Context, item T) error

// AsyncWriter moves writes off the request path: Write enqueues without
// blocking and a single goroutine drains the queue in order.
type AsyncWriter[T any] struct {
	queue   chan T
	handler WriteHandler[T]
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewAsyncWriter returns a stopped writer. capacity <= 0 uses
// DefaultQueueCapacity.
func NewAsyncWriter[T any](handler WriteHandler[T], capacity int, logger *zap.Logger) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncWriter[T]{
		queue:   make(chan T, capacity),
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the drain goroutine. Calling it twice is harmless.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.drain()
}

func (w *AsyncWriter[T]) drain() {
	defer close(w.done)
	for item := range w.queue {
		if err := w.handler(context.Background(), item); err != nil {
			w.logger.Warn("async write failed", zap.Error(err))
		}
	}
}

// Write enqueues item. It returns false when the queue is full or the
// writer has been stopped; the caller decides whether to write inline.
func (w *AsyncWriter[T]) Write(item T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.queue <- item:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued items.
func (w *AsyncWriter[T]) Pending() int {
	return len(w.queue)
}

// IsStarted reports whether the writer accepts items.
func (w *AsyncWriter[T]) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop refuses new items, then waits for the queue to drain or ctx to end.
func (w *AsyncWriter[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return w.wait(ctx)
	}
	w.stopped = true
	started := w.started
	close(w.queue)
	w.mu.Unlock()

	if !started {
		return nil
	}
	return w.wait(ctx)
}

func (w *AsyncWriter[T]) wait(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
