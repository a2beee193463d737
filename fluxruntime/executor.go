package fluxruntime

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Executor runs one validated request against the resident engine.
//
// Executor does not serialize anything itself; the Service admits callers
// through the Gate before calling it. Use it directly only when the caller
// already guarantees one request at a time.
type Executor struct {
	session *SessionManager
	namer   *OutputNamer
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecutor returns an Executor that draws its engine from session and
// names artifacts with namer.
func NewExecutor(session *SessionManager, namer *OutputNamer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		session: session,
		namer:   namer,
		logger:  logger,
		now:     time.Now,
	}
}

// Session returns the session manager the executor draws from.
func (x *Executor) Session() *SessionManager {
	return x.session
}

// Namer returns the output namer.
func (x *Executor) Namer() *OutputNamer {
	return x.namer
}

// Generate runs a text-to-image request.
//
// Steps:
//  1. Validate (the engine is not touched on failure)
//  2. Acquire the resident engine
//  3. Marshal Params with DefaultStrength
//  4. Reserve the output path
//  5. Execute and translate a non-zero status
//  6. Verify the artifact
//
// On any failure no file is left behind.
func (x *Executor) Generate(req Request) (*Result, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	handle, cfg, err := x.session.Acquire(req.ModelDir, req.UseMmap)
	if err != nil {
		return nil, err
	}

	params := NewParams(req, DefaultStrength)
	prompt := SanitizePrompt(req.Prompt)

	return x.run(OpTextToImage, handle, params, cfg, func(out string) int {
		return handle.TextToImage(prompt, params, out)
	})
}

// ImageToImage runs an image-to-image request. Zero Width/Height are passed
// through so the engine adopts the input image's dimensions.
func (x *Executor) ImageToImage(req Img2ImgRequest) (*Result, error) {
	if err := ValidateImg2ImgRequest(req); err != nil {
		return nil, err
	}

	handle, cfg, err := x.session.Acquire(req.ModelDir, req.UseMmap)
	if err != nil {
		return nil, err
	}

	strength := float32(req.Strength)
	if strength == 0 {
		strength = DefaultStrength
	}
	params := NewParams(req.Request, strength)
	prompt := SanitizePrompt(req.Prompt)

	return x.run(OpImageToImage, handle, params, cfg, func(out string) int {
		return handle.ImageToImage(prompt, req.InputPath, params, out)
	})
}

func (x *Executor) run(op string, handle Handle, params Params, cfg EngineConfig, call func(out string) int) (*Result, error) {
	out, err := x.namer.Reserve()
	if err != nil {
		return nil, err
	}

	start := x.now()
	rc, perr := x.invoke(op, call, out)
	elapsed := x.now().Sub(start)
	x.session.markServed()

	if perr != nil {
		x.namer.Release(out)
		return nil, perr
	}
	if rc != 0 {
		x.namer.Release(out)
		gerr := generationError(op, rc, handle.LastError())
		x.logger.Error("generation failed",
			zap.String("op", op),
			zap.Int("rc", rc),
			zap.String("message", gerr.Message),
			zap.Duration("duration", elapsed),
		)
		return nil, gerr
	}

	if err := VerifyArtifact(out); err != nil {
		x.namer.Release(out)
		x.logger.Error("artifact verification failed", zap.String("op", op), zap.String("path", out), zap.Error(err))
		return nil, err
	}

	x.logger.Debug("generation complete",
		zap.String("op", op),
		zap.String("path", out),
		zap.Int32("width", params.Width),
		zap.Int32("height", params.Height),
		zap.Int32("steps", params.NumSteps),
		zap.Int64("seed", params.Seed),
		zap.Duration("duration", elapsed),
	)

	return &Result{
		Path:     out,
		Params:   params,
		Config:   cfg,
		Duration: elapsed,
	}, nil
}

// invoke runs one engine call. A panic in a Go backend becomes a
// KindGeneration error instead of unwinding through the admitted caller.
func (x *Executor) invoke(op string, call func(out string) int, out string) (rc int, err error) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("engine call panicked",
				zap.String("op", op),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = &Error{Kind: KindGeneration, Op: op, Message: fmt.Sprintf("engine call panicked: %v", r)}
		}
	}()
	return call(out), nil
}
