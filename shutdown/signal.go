package shutdown

import "sync"

// SignalCounter counts shutdown signals: the first starts a graceful
// shutdown, the forceAfter-th calls onForce.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	onForce    func()
}

// NewSignalCounter returns a counter that calls onForce on the forceAfter-th
// signal. onForce may be nil.
func NewSignalCounter(forceAfter int, onForce func()) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Increment records one signal and returns the new count.
func (s *SignalCounter) Increment() int {
	s.mu.Lock()
	s.count++
	n := s.count
	force := n >= s.forceAfter && s.onForce != nil
	onForce := s.onForce
	s.mu.Unlock()

	if force {
		onForce()
	}
	return n
}

// Count returns the number of signals seen.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
