package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxserve/db"
	"fluxserve/fluxruntime"
	"fluxserve/shutdown"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv      *Server
	svc      *fluxruntime.Service
	outDir   string
	modelDir string
	tracker  *shutdown.OperationTracker
}

func newTestEnv(t *testing.T, mutate func(*Config), history History) *testEnv {
	t.Helper()
	env := &testEnv{
		outDir:   t.TempDir(),
		modelDir: t.TempDir(),
		tracker:  shutdown.NewOperationTracker(),
	}
	session := fluxruntime.NewSessionManager(fluxruntime.NewPlaceholderBackend(), nil)
	exec := fluxruntime.NewExecutor(session, fluxruntime.NewOutputNamer(env.outDir), nil)
	env.svc = fluxruntime.NewService(exec, nil, nil)

	cfg := DefaultConfig()
	cfg.Defaults.ModelDir = env.modelDir
	cfg.Defaults.Width = 64
	cfg.Defaults.Height = 64
	cfg.Defaults.Steps = 1
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(cfg, env.svc, history, env.tracker, nil)
	require.NoError(t, err)
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	env.tracker.Close()
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGenerateAndServeImage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a red fox", "seed": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[GenerateResponse](t, w)
	assert.Equal(t, w.Header().Get(headerRequestID), resp.ID)
	assert.Equal(t, int64(7), resp.Seed)
	assert.Equal(t, 64, resp.Width)
	assert.Equal(t, 1, resp.Steps)
	assert.Equal(t, env.outDir, filepath.Dir(resp.Path))
	assert.True(t, fluxruntime.IsOutputName(filepath.Base(resp.Path)))

	img := env.do(t, http.MethodGet, resp.URL, nil)
	require.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "\x89PNG", img.Body.String()[:4])
	_, err := os.Stat(resp.Path)
	assert.NoError(t, err, "plain GET keeps the file")

	img = env.do(t, http.MethodGet, resp.URL+"?consume=true", nil)
	require.Equal(t, http.StatusOK, img.Code)
	_, err = os.Stat(resp.Path)
	assert.True(t, os.IsNotExist(err), "consume removes the file")

	img = env.do(t, http.MethodGet, resp.URL, nil)
	assert.Equal(t, http.StatusNotFound, img.Code)
}

func TestGenerateUsesClientRequestID(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := "6f1c2e9a-3b7d-4c1e-9f2a-8d5b4a3c2e1f"

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "x"}, headerRequestID, id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[GenerateResponse](t, w).ID)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantKind   string
	}{
		{"empty prompt", map[string]any{"prompt": ""}, http.StatusBadRequest, "validation"},
		{"bad width", map[string]any{"prompt": "x", "width": 100}, http.StatusBadRequest, "validation"},
		{"bad steps", map[string]any{"prompt": "x", "steps": 0}, http.StatusBadRequest, "validation"},
		{"not json", "{", http.StatusBadRequest, "validation"},
		{"missing model", map[string]any{"prompt": "x", "model_dir": "/does/not/exist"}, http.StatusInternalServerError, "engine_init"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			w := env.do(t, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, decode[errorBody](t, w).Error.Kind)
		})
	}
}

func TestImageToImage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	first := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "base", "width": 128, "height": 64})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	input := decode[GenerateResponse](t, first).Path

	w := env.do(t, http.MethodPost, "/api/img2img", map[string]any{
		"prompt":     "variation",
		"input_path": input,
		"strength":   0.5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, input, decode[GenerateResponse](t, w).Path)

	w = env.do(t, http.MethodPost, "/api/img2img", map[string]any{
		"prompt":     "variation",
		"input_path": filepath.Join(env.outDir, "missing.png"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImageRejectsForeignNames(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.outDir, "notes.png"), []byte("x"), 0o644))

	for _, name := range []string{"notes.png", "flux_abc.png", "flux_1.jpg"} {
		w := env.do(t, http.MethodGet, "/api/images/"+name, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, name)
	}
}

func TestStatusAndReset(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	st := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.False(t, st.Session.Loaded)
	assert.Equal(t, env.outDir, st.OutputDir)
	assert.False(t, st.History)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "x"}).Code)

	st = decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.True(t, st.Session.Loaded)
	assert.Equal(t, env.modelDir, st.Session.ModelDir)
	assert.Equal(t, int64(1), st.Session.Served)
	assert.Equal(t, int64(1), st.Queue.Admitted)
	assert.NotNil(t, st.Session.CreatedAt)

	w := env.do(t, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	st = decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.False(t, st.Session.Loaded)
	assert.Equal(t, int64(1), st.Session.Creates)
}

func TestClosedServiceIsUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.NoError(t, env.svc.Close(context.Background()))

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "engine_init", decode[errorBody](t, w).Error.Kind)
}

func TestShutdownRejectsRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.tracker.Close()

	w := env.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, kindUnavailable, decode[errorBody](t, w).Error.Kind)
}

type fakeHistory struct {
	gens      []db.Generation
	lastLimit int
}

func (f *fakeHistory) ListRecent(_ context.Context, limit int) ([]db.Generation, error) {
	f.lastLimit = limit
	return f.gens, nil
}

func (f *fakeHistory) Stats(context.Context) (db.Stats, error) {
	return db.Stats{Total: int64(len(f.gens)), Succeeded: int64(len(f.gens))}, nil
}

func TestHistory(t *testing.T) {
	disabled := newTestEnv(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, disabled.do(t, http.MethodGet, "/api/history", nil).Code)

	hist := &fakeHistory{gens: []db.Generation{{ID: 1, Prompt: "a"}, {ID: 2, Prompt: "b"}}}
	env := newTestEnv(t, func(c *Config) { c.MaxHistory = 50 }, hist)

	w := env.do(t, http.MethodGet, "/api/history?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HistoryResponse](t, w)
	assert.Len(t, resp.Generations, 2)
	assert.Equal(t, int64(2), resp.Stats.Total)
	assert.Equal(t, 50, hist.lastLimit)

	w = env.do(t, http.MethodGet, "/api/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	hist.gens = nil
	w = env.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"generations":[]`)
	assert.Equal(t, 20, hist.lastLimit)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fluxruntime.ValidatePrompt(""), http.StatusBadRequest},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"generation", &fluxruntime.Error{Kind: fluxruntime.KindGeneration, Code: 3}, http.StatusInternalServerError},
		{"io", &fluxruntime.Error{Kind: fluxruntime.KindIO}, http.StatusInternalServerError},
		{"engine init", &fluxruntime.Error{Kind: fluxruntime.KindEngineInit}, http.StatusInternalServerError},
		{"closed", &fluxruntime.Error{Kind: fluxruntime.KindEngineInit, Err: fluxruntime.ErrSessionClosed}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNewRejectsBadHash(t *testing.T) {
	svc := fluxruntime.NewService(fluxruntime.NewExecutor(
		fluxruntime.NewSessionManager(fluxruntime.NewPlaceholderBackend(), nil),
		fluxruntime.NewOutputNamer(t.TempDir()), nil), nil, nil)

	_, err := New(Config{APIKeyHash: "not-a-hash"}, svc, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = New(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}
