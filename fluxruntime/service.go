package fluxruntime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Operation names used in records and logs.
const (
	OpTextToImage  = "txt2img"
	OpImageToImage = "img2img"
)

// GenerationRecord describes one finished request, successful or not.
type GenerationRecord struct {
	RequestID    string
	Operation    string
	ModelDir     string
	Prompt       string
	Width        int
	Height       int
	Steps        int
	Guidance     float64
	Seed         int64
	Strength     float64
	OK           bool
	ErrorKind    string
	ErrorMessage string
	OutputPath   string
	Duration     time.Duration
	CreatedAt    time.Time
}

// Recorder receives a record for every request the Service finishes.
// A Recorder error is logged and never changes the request's outcome.
type Recorder interface {
	Record(ctx context.Context, rec GenerationRecord) error
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that the Service copies into records
// and log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ServiceStatus is reported by Service.Status.
type ServiceStatus struct {
	Session   SessionState
	Waiting   int
	InFlight  int
	Admitted  int64
	OutputDir string
}

// Service is the caller-facing organism: Gate + Executor + SessionManager.
//
// Every operation that touches the engine, including Reset and Close, is
// admitted through the same Gate, so engine calls never overlap and the
// handle is never destroyed under a running generation.
type Service struct {
	gate     *Gate
	exec     *Executor
	logger   *zap.Logger
	recorder Recorder
}

// NewService composes a Service around exec. recorder may be nil.
func NewService(exec *Executor, logger *zap.Logger, recorder Recorder) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gate:     NewGate(),
		exec:     exec,
		logger:   logger,
		recorder: recorder,
	}
}

// Generate queues a text-to-image request and runs it once admitted.
// If ctx ends while the request is still queued, the request is dropped and
// the context error is returned. Once admitted it runs to completion.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	return s.do(ctx, OpTextToImage, req, 0, func() (*Result, error) {
		return s.exec.Generate(req)
	})
}

// ImageToImage queues an image-to-image request. See Generate.
func (s *Service) ImageToImage(ctx context.Context, req Img2ImgRequest) (*Result, error) {
	return s.do(ctx, OpImageToImage, req.Request, req.Strength, func() (*Result, error) {
		return s.exec.ImageToImage(req)
	})
}

func (s *Service) do(ctx context.Context, op string, req Request, strength float64, run func() (*Result, error)) (*Result, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("fluxruntime: %s not admitted: %w", op, err)
	}
	start := time.Now()
	res, err := s.admitted(run)

	s.report(ctx, op, req, strength, start, res, err)
	return res, err
}

// admitted runs fn while holding the slot and releases it however fn ends.
func (s *Service) admitted(fn func() (*Result, error)) (*Result, error) {
	defer s.gate.Release()
	return fn()
}

func (s *Service) report(ctx context.Context, op string, req Request, strength float64, start time.Time, res *Result, err error) {
	rec := GenerationRecord{
		RequestID: RequestIDFrom(ctx),
		Operation: op,
		ModelDir:  req.ModelDir,
		Prompt:    req.Prompt,
		Width:     req.Width,
		Height:    req.Height,
		Steps:     req.Steps,
		Guidance:  req.Guidance,
		Seed:      req.Seed,
		Strength:  strength,
		OK:        err == nil,
		Duration:  time.Since(start),
		CreatedAt: start,
	}
	if op == OpTextToImage || strength == 0 {
		rec.Strength = float64(DefaultStrength)
	}

	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("op", op),
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.Int("steps", req.Steps),
		zap.Int64("seed", req.Seed),
		zap.Duration("duration", rec.Duration),
	}

	if err != nil {
		rec.ErrorKind = KindOf(err).String()
		rec.ErrorMessage = err.Error()
		var fe *Error
		if errors.As(err, &fe) {
			rec.ErrorMessage = fe.Message
		}
		s.logger.Warn("request failed", append(fields, zap.String("kind", rec.ErrorKind), zap.Error(err))...)
	} else {
		rec.OutputPath = res.Path
		s.logger.Info("request complete", append(fields, zap.String("path", res.Path))...)
	}

	if s.recorder == nil {
		return
	}
	if rerr := s.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		s.logger.Warn("failed to record generation", zap.String("request_id", rec.RequestID), zap.Error(rerr))
	}
}

// Reset waits for the slot, then destroys the resident engine. The next
// request creates a fresh one.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("fluxruntime: reset not admitted: %w", err)
	}
	defer s.gate.Release()
	s.exec.Session().Reset()
	return nil
}

// Close waits for queued and running requests ahead of it, then destroys the
// engine. Requests arriving after Close fail with ErrSessionClosed.
func (s *Service) Close(ctx context.Context) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("fluxruntime: close not admitted: %w", err)
	}
	defer s.gate.Release()
	s.exec.Session().Close()
	return nil
}

// Status returns the session slot and queue depth.
func (s *Service) Status() ServiceStatus {
	return ServiceStatus{
		Session:   s.exec.Session().Snapshot(),
		Waiting:   s.gate.Waiting(),
		InFlight:  s.gate.InFlight(),
		Admitted:  s.gate.Admitted(),
		OutputDir: s.exec.Namer().Dir(),
	}
}
