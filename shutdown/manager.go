package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fluxserve/core"
)

// Manager ties together the tracker, the registry and signal handling.
//
//	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.Server.ShutdownTimeout))
//	m.Register("http", shutdown.PriorityHTTPServer, srv.Shutdown)
//	m.Register("service", shutdown.PriorityService, svc.Close)
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(code int)

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	finished bool
	sigCh    chan os.Signal
	signal   os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) { m.exit = exit }
}

// NewManager returns a Manager. Call Start to listen for signals.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		exit:     os.Exit,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		sigCh:    make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, exiting immediately")
		m.exit(m.exitCode())
	})
	return m
}

// Context is cancelled when a shutdown signal arrives or Trigger is called.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Tracker returns the in-flight operation tracker.
func (m *Manager) Tracker() *OperationTracker {
	return m.tracker
}

// Register adds a cleanup handler.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Calling it twice is harmless.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigCh {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Increment() == 1 {
		m.mu.Lock()
		m.signal = sig
		m.mu.Unlock()
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		m.cancel()
	}
}

// Trigger starts shutdown without a signal.
func (m *Manager) Trigger() {
	m.cancel()
}

// Shutdown rejects new operations, waits for in-flight ones and runs the
// registered handlers, all within the configured timeout. Only the first
// call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Strings("handlers", m.registry.Names()),
	)

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for in-flight requests", zap.Int64("active", n))
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("in-flight requests did not finish", zap.Int64("remaining", m.tracker.ActiveCount()))
	}

	remaining := max(m.timeout-time.Since(start), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	errs := m.registry.Shutdown(ctx)
	for _, err := range errs {
		m.logger.Error("shutdown handler failed", zap.Error(err))
	}

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigCh)
	}
	m.mu.Unlock()

	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// ExitCode maps the received signal to the process exit code.
func (m *Manager) ExitCode() int {
	return m.exitCode()
}

func (m *Manager) exitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.signal {
	case nil:
		return core.ExitCodeSuccess
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeSIGINT
	}
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}
