// session.go owns the resident engine handle. This is a molecule that
// composes a Backend (create) with the Handle lifecycle (destroy).

package fluxruntime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is a point-in-time copy of the session slot.
type SessionState struct {
	Loaded    bool
	Closed    bool
	Config    EngineConfig
	CreatedAt time.Time
	Served    int64 // generations served by the current handle
	Creates   int64 // successful creates over the manager's lifetime
}

// SessionManager holds at most one live engine handle and the configuration
// it was created with.
//
// The first successful Acquire fixes the configuration. Later calls with a
// different model directory or mmap flag get the existing handle; the
// mismatch is logged at warn level and otherwise ignored. Only Reset or
// Close destroy the handle.
//
// Callers serialize Acquire, Reset and Close (and every use of the returned
// Handle) through the Gate. The internal mutex only protects Snapshot, which
// may be called from anywhere.
type SessionManager struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	handle    Handle
	config    EngineConfig
	createdAt time.Time
	served    int64
	creates   int64
	closed    bool
}

// NewSessionManager returns an empty session that creates engines with
// backend. A nil logger disables logging.
func NewSessionManager(backend Backend, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// Acquire returns the resident handle, creating it on first use.
//
// A failed create leaves the slot empty so the next call tries again.
// After Close, Acquire always fails with ErrSessionClosed.
func (s *SessionManager) Acquire(modelDir string, useMmap bool) (Handle, EngineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, EngineConfig{}, &Error{
			Kind:    KindEngineInit,
			Op:      "create",
			Message: "session closed",
			Err:     ErrSessionClosed,
		}
	}

	requested := EngineConfig{ModelDir: modelDir, UseMmap: useMmap}
	if s.handle != nil {
		if requested != s.config {
			s.logger.Warn("engine already loaded with a different configuration; keeping it",
				zap.String("loaded_model_dir", s.config.ModelDir),
				zap.Bool("loaded_use_mmap", s.config.UseMmap),
				zap.String("requested_model_dir", modelDir),
				zap.Bool("requested_use_mmap", useMmap),
			)
		}
		return s.handle, s.config, nil
	}

	start := s.now()
	h, err := s.backend.Create(modelDir, useMmap)
	if err != nil || h == nil {
		s.logger.Error("engine create failed",
			zap.String("model_dir", modelDir),
			zap.Bool("use_mmap", useMmap),
			zap.Error(err),
		)
		return nil, EngineConfig{}, engineInitError(modelDir, err)
	}

	s.handle = h
	s.config = requested
	s.createdAt = s.now()
	s.served = 0
	s.creates++
	s.logger.Info("engine created",
		zap.String("model_dir", modelDir),
		zap.Bool("use_mmap", useMmap),
		zap.Duration("load_time", s.createdAt.Sub(start)),
	)
	return h, requested, nil
}

// markServed counts one completed engine call against the current handle.
func (s *SessionManager) markServed() {
	s.mu.Lock()
	s.served++
	s.mu.Unlock()
}

// Reset destroys the current handle, if any. The next Acquire creates a new
// engine with whatever configuration it is given. Reset on a closed session
// is a no-op.
func (s *SessionManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked("reset")
}

// Close destroys the handle and refuses further Acquire calls. It is safe to
// call more than once.
func (s *SessionManager) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.destroyLocked("close")
	s.closed = true
}

func (s *SessionManager) destroyLocked(reason string) {
	if s.handle == nil {
		return
	}
	s.handle.Destroy()
	s.logger.Info("engine destroyed",
		zap.String("reason", reason),
		zap.String("model_dir", s.config.ModelDir),
		zap.Int64("served", s.served),
	)
	s.handle = nil
	s.config = EngineConfig{}
	s.createdAt = time.Time{}
	s.served = 0
}

// Snapshot returns a copy of the session slot for status reporting.
func (s *SessionManager) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		Loaded:    s.handle != nil,
		Closed:    s.closed,
		Config:    s.config,
		CreatedAt: s.createdAt,
		Served:    s.served,
		Creates:   s.creates,
	}
}
