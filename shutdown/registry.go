package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fluxserve/core"
)

// Handler priorities used by fluxserve. Lower runs first.
const (
	PriorityHTTPServer = 10 // stop accepting requests
	PriorityService    = 20 // drain the gate and destroy the engine
	PrioritySweeper    = 25
	PriorityHistory    = 30 // close the history database
	PriorityOutputs    = 40 // remove leftover artifacts
	PriorityLogger     = 90 // flush logs last
)

type registryEntry struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// ShutdownRegistry runs named cleanup handlers in priority order. Handlers
// with equal priority run in registration order.
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []registryEntry
	closed  bool
}

// NewShutdownRegistry returns an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registration after Shutdown is ignored.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, registryEntry{name: name, priority: priority, fn: fn})
}

func (r *ShutdownRegistry) sortedLocked() []registryEntry {
	sorted := append([]registryEntry(nil), r.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

// Shutdown runs every handler once, even if earlier ones fail, and returns
// the failures. Later calls return nil.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range sorted {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errs
}

// Names lists handler names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := r.sortedLocked()
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered handlers.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
