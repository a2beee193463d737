package fluxruntime

import (
	"errors"
	"testing"
)

func TestSessionManagerCreatesOnce(t *testing.T) {
	backend := &stubBackend{}
	s := NewSessionManager(backend, nil)

	first, _, err := s.Acquire("m", false)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		h, _, err := s.Acquire("m", false)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		if h != first {
			t.Fatalf("Acquire() #%d returned a different handle", i)
		}
	}
	if got := backend.createCount(); got != 1 {
		t.Errorf("creates = %d, want 1", got)
	}
}

func TestSessionManagerFirstConfigurationWins(t *testing.T) {
	backend := &stubBackend{}
	s := NewSessionManager(backend, nil)

	first, cfg, err := s.Acquire("model-a", true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h, cfg2, err := s.Acquire("model-b", false)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h != first {
		t.Error("a different configuration must not create a new engine")
	}
	want := EngineConfig{ModelDir: "model-a", UseMmap: true}
	if cfg != want || cfg2 != want {
		t.Errorf("configs = %+v, %+v, want %+v", cfg, cfg2, want)
	}
	if got := s.Snapshot().Config; got != want {
		t.Errorf("Snapshot().Config = %+v, want %+v", got, want)
	}
}

func TestSessionManagerFailedCreateLeavesSlotEmpty(t *testing.T) {
	backend := &stubBackend{createErr: errStubCreate}
	s := NewSessionManager(backend, nil)

	_, _, err := s.Acquire("missing", false)
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("Acquire() error = %v, want engine init", err)
	}
	if !errors.Is(err, errStubCreate) {
		t.Errorf("error should wrap backend cause")
	}
	if s.Snapshot().Loaded {
		t.Fatal("failed create must not leave a handle")
	}

	backend.mu.Lock()
	backend.createErr = nil
	backend.mu.Unlock()

	if _, _, err := s.Acquire("m", false); err != nil {
		t.Fatalf("retry Acquire() error = %v", err)
	}
	if len(backend.configs) != 2 {
		t.Errorf("create attempts = %d, want 2", len(backend.configs))
	}
}

func TestSessionManagerNilHandleIsInitFailure(t *testing.T) {
	s := NewSessionManager(&stubBackend{nilHandle: true}, nil)
	_, _, err := s.Acquire("m", false)
	if KindOf(err) != KindEngineInit {
		t.Fatalf("KindOf() = %v, want %v", KindOf(err), KindEngineInit)
	}
}

func TestSessionManagerReset(t *testing.T) {
	backend := &stubBackend{}
	s := NewSessionManager(backend, nil)

	if _, _, err := s.Acquire("model-a", false); err != nil {
		t.Fatal(err)
	}
	old := backend.lastHandle()
	s.Reset()

	if !old.isDestroyed() {
		t.Error("Reset() should destroy the handle")
	}
	if s.Snapshot().Loaded {
		t.Error("slot should be empty after Reset()")
	}

	_, cfg, err := s.Acquire("model-b", false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelDir != "model-b" {
		t.Errorf("after reset the new configuration should apply, got %q", cfg.ModelDir)
	}
	if got := s.Snapshot().Creates; got != 2 {
		t.Errorf("Creates = %d, want 2", got)
	}
}

func TestSessionManagerClose(t *testing.T) {
	backend := &stubBackend{}
	s := NewSessionManager(backend, nil)
	if _, _, err := s.Acquire("m", false); err != nil {
		t.Fatal(err)
	}
	h := backend.lastHandle()

	s.Close()
	s.Close()

	if !h.isDestroyed() {
		t.Error("Close() should destroy the handle")
	}
	_, _, err := s.Acquire("m", false)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrSessionClosed", err)
	}
	if KindOf(err) != KindEngineInit {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindEngineInit)
	}
	if !s.Snapshot().Closed {
		t.Error("Snapshot().Closed = false")
	}
}
