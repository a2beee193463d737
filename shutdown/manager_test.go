package shutdown

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"fluxserve/core"
)

func TestManagerShutdownSequence(t *testing.T) {
	m := NewManager(nil, WithTimeout(time.Second))

	var order []string
	m.Register("service", PriorityService, func(context.Context) error {
		order = append(order, "service")
		return nil
	})
	m.Register("http", PriorityHTTPServer, func(context.Context) error {
		order = append(order, "http")
		return nil
	})

	if !m.Tracker().Start() {
		t.Fatal("tracker should accept operations before shutdown")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Tracker().Done()
	}()

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(order) != 2 || order[0] != "http" || order[1] != "service" {
		t.Errorf("order = %v", order)
	}
	if !m.IsShuttingDown() || m.Context().Err() == nil {
		t.Error("context should be cancelled after Shutdown()")
	}
	if m.Tracker().Start() {
		t.Error("tracker should reject operations after Shutdown()")
	}
	if err := m.Shutdown(); err != nil {
		t.Error("second Shutdown() should be a no-op")
	}
}

func TestManagerShutdownJoinsErrors(t *testing.T) {
	m := NewManager(nil, WithTimeout(time.Second))
	boom := errors.New("boom")
	m.Register("db", PriorityHistory, func(context.Context) error { return boom })

	if err := m.Shutdown(); !errors.Is(err, boom) {
		t.Errorf("Shutdown() = %v, want it to wrap the handler error", err)
	}
}

func TestManagerSignalHandling(t *testing.T) {
	exitCode := -1
	m := NewManager(nil, WithExitFunc(func(code int) { exitCode = code }))

	m.handleSignal(syscall.SIGTERM)
	select {
	case <-m.Context().Done():
	default:
		t.Fatal("first signal should cancel the context")
	}
	if m.ExitCode() != core.ExitCodeSIGTERM {
		t.Errorf("ExitCode() = %d, want %d", m.ExitCode(), core.ExitCodeSIGTERM)
	}
	if exitCode != -1 {
		t.Fatal("first signal must not force exit")
	}

	m.handleSignal(os.Interrupt)
	if exitCode != core.ExitCodeSIGTERM {
		t.Errorf("forced exit code = %d, want %d", exitCode, core.ExitCodeSIGTERM)
	}
}

func TestManagerTrigger(t *testing.T) {
	m := NewManager(nil)
	if m.IsShuttingDown() {
		t.Fatal("new manager should not be shutting down")
	}
	m.Trigger()
	if !m.IsShuttingDown() {
		t.Error("Trigger() should start shutdown")
	}
	if m.ExitCode() != core.ExitCodeSuccess {
		t.Errorf("ExitCode() without signal = %d", m.ExitCode())
	}
}
