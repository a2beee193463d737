package fluxruntime

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// stubCall records one engine invocation.
type stubCall struct {
	Op     string
	Prompt string
	Input  string
	Params Params
	Out    string
}

// stubBackend is an in-memory engine used across the package tests.
type stubBackend struct {
	mu        sync.Mutex
	creates   int
	configs   []EngineConfig
	createErr error
	nilHandle bool

	// handle settings copied into each created handle
	rc      int
	lastErr string
	delay   time.Duration
	garbage bool  // write a non-PNG artifact
	panics  int32 // number of calls that panic before the engine works

	handles []*stubHandle
}

func (b *stubBackend) Create(modelDir string, useMmap bool) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configs = append(b.configs, EngineConfig{ModelDir: modelDir, UseMmap: useMmap})
	if b.createErr != nil {
		return nil, b.createErr
	}
	if b.nilHandle {
		return nil, nil
	}
	b.creates++
	h := &stubHandle{rc: b.rc, lastErr: b.lastErr, delay: b.delay, garbage: b.garbage}
	h.panics.Store(b.panics)
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *stubBackend) createCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func (b *stubBackend) lastHandle() *stubHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.handles) == 0 {
		return nil
	}
	return b.handles[len(b.handles)-1]
}

type stubHandle struct {
	mu        sync.Mutex
	calls     []stubCall
	destroyed bool

	rc      int
	lastErr string
	delay   time.Duration
	garbage bool

	panics     atomic.Int32
	active     atomic.Int32
	overlapped atomic.Bool
}

func (h *stubHandle) enter() {
	if h.active.Add(1) > 1 {
		h.overlapped.Store(true)
	}
}

func (h *stubHandle) leave() {
	h.active.Add(-1)
}

func (h *stubHandle) TextToImage(prompt string, p Params, outPath string) int {
	return h.exec(stubCall{Op: OpTextToImage, Prompt: prompt, Params: p, Out: outPath})
}

func (h *stubHandle) ImageToImage(prompt, inPath string, p Params, outPath string) int {
	return h.exec(stubCall{Op: OpImageToImage, Prompt: prompt, Input: inPath, Params: p, Out: outPath})
}

func (h *stubHandle) exec(c stubCall) int {
	h.enter()
	defer h.leave()

	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.panics.Add(-1) >= 0 {
		panic("stub: engine crashed")
	}
	if h.rc != 0 {
		return h.rc
	}
	if h.garbage {
		if err := os.WriteFile(c.Out, []byte("not a png"), 0o644); err != nil {
			return 4
		}
		return 0
	}
	w, hgt := int(c.Params.Width), int(c.Params.Height)
	if w == 0 || hgt == 0 {
		w, hgt = 64, 64
	}
	if err := writeTestPNG(c.Out, w, hgt); err != nil {
		return 4
	}
	return 0
}

func (h *stubHandle) LastError() string {
	return h.lastErr
}

func (h *stubHandle) Destroy() {
	h.mu.Lock()
	h.destroyed = true
	h.mu.Unlock()
}

func (h *stubHandle) recorded() []stubCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stubCall(nil), h.calls...)
}

func (h *stubHandle) isDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func writeTestPNG(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var errStubCreate = errors.New("stub: model not found")

// newTestService wires a Service around backend with outputs in a temp dir.
func newTestService(dir string, backend Backend) (*Service, *Executor) {
	session := NewSessionManager(backend, nil)
	exec := NewExecutor(session, NewOutputNamer(dir), nil)
	return NewService(exec, nil, nil), exec
}

func validRequest() Request {
	return Request{
		ModelDir: "m",
		Prompt:   "cat",
		Width:    256,
		Height:   256,
		Steps:    4,
		Guidance: 1.0,
		Seed:     SeedRandom,
		UseMmap:  false,
	}
}
