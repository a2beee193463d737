// Package server exposes the fluxruntime Service over HTTP.
//
// Routes:
//
//	GET  /health
//	POST /api/generate
//	POST /api/img2img
//	GET  /api/images/:name   (?consume=true deletes after serving)
//	GET  /api/status
//	GET  /api/history        (?limit=N)
//	POST /api/session/reset
//
// Everything under /api requires an API key when Config.APIKeyHash is set.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fluxserve/db"
	"fluxserve/fluxruntime"
	"fluxserve/shutdown"
)

// History is the read side of the generation history. It is optional.
type History interface {
	ListRecent(ctx context.Context, limit int) ([]db.Generation, error)
	Stats(ctx context.Context) (db.Stats, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	APIKeyHash  string // bcrypt hash; empty disables auth
	CORSOrigins []string

	// Defaults fills fields a request leaves out. Prompt is ignored.
	Defaults fluxruntime.Request

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHistory        int
}

// DefaultConfig returns a local-only configuration.
func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1:7860",
		Defaults: fluxruntime.Request{
			ModelDir: "flux-klein-model",
			Width:    256,
			Height:   256,
			Steps:    4,
			Guidance: 1.0,
			Seed:     fluxruntime.SeedRandom,
		},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHistory:        100,
	}
}

// Server is the HTTP front end: gin router, middleware and handlers over
// one Service.
type Server struct {
	cfg     Config
	svc     *fluxruntime.Service
	history History
	tracker *shutdown.OperationTracker
	logger  *zap.Logger
	limiter *RateLimiter
	auth    *apiKeyVerifier
	started time.Time

	engine *gin.Engine
	http   *http.Server
}

// New builds the router. history and tracker may be nil.
func New(cfg Config, svc *fluxruntime.Service, history History, tracker *shutdown.OperationTracker, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		history: history,
		tracker: tracker,
		logger:  logger,
		started: time.Now(),
	}
	if cfg.APIKeyHash != "" {
		if err := ValidateAPIKeyHash(cfg.APIKeyHash); err != nil {
			return nil, fmt.Errorf("server: api key hash: %w", err)
		}
		s.auth = newAPIKeyVerifier(cfg.APIKeyHash)
		s.limiter = NewRateLimiter(DefaultAuthAttempts, DefaultAuthWindow, DefaultAuthBlock)
	}

	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		// no WriteTimeout: a queued generation can take minutes
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "X-API-Key", headerRequestID}
	corsConfig.ExposeHeaders = []string{headerRequestID}
	if len(s.cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.cfg.CORSOrigins
	}

	r.Use(
		gin.Recovery(),
		requestID(),
		requestLogger(s.logger, "/health"),
		cors.New(corsConfig),
	)

	r.GET("/health", s.handleHealth)

	api := r.Group("/api", trackRequests(s.tracker))
	if s.auth != nil {
		api.Use(apiKeyAuth(s.auth, s.limiter, s.logger))
	}
	api.POST("/generate", s.handleGenerate)
	api.POST("/img2img", s.handleImageToImage)
	api.GET("/images/:name", s.handleImage)
	api.GET("/status", s.handleStatus)
	api.GET("/history", s.handleHistory)
	api.POST("/session/reset", s.handleReset)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("auth", s.auth != nil),
		zap.Bool("history", s.history != nil),
	)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones. It has
// the core.ShutdownFunc signature.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// StartLimiterCleanup prunes expired auth-failure records until ctx ends.
// It does nothing when auth is disabled.
func (s *Server) StartLimiterCleanup(ctx context.Context, interval time.Duration) {
	if s.limiter != nil {
		s.limiter.StartCleanupTicker(ctx, interval)
	}
}
