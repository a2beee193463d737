// Package fluxruntime keeps a FLUX image-generation engine resident and
// serves requests against it one at a time.
//
// It follows atomic design principles:
//
//   - Atoms: pure functions (ValidateRequest, ValidatePrompt, NewParams, VerifyArtifact)
//   - Molecules: SessionManager, OutputNamer, Gate, Executor
//   - Organism: Service, the caller-facing API
//
// # Quick Start
//
//	backend, err := fluxruntime.NewBackend("native", fluxruntime.BackendOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session := fluxruntime.NewSessionManager(backend, logger)
//	exec := fluxruntime.NewExecutor(session, fluxruntime.NewOutputNamer(""), logger)
//	svc := fluxruntime.NewService(exec, logger, nil)
//	defer svc.Close(context.Background())
//
//	res, err := svc.Generate(ctx, fluxruntime.Request{
//	    ModelDir: "flux-klein-model",
//	    Prompt:   "a cat",
//	    Width:    256,
//	    Height:   256,
//	    Steps:    4,
//	    Guidance: 1.0,
//	    Seed:     fluxruntime.SeedRandom,
//	})
//
// # Engine lifecycle
//
// The engine is created on the first request and reused afterwards. The
// first configuration wins: a later request naming another model directory
// is served by the engine already loaded. Service.Reset drops the engine so
// the next request loads a new one.
//
// # Backends
//
//   - native: libfluxserver through cgo. Build with CGO_ENABLED=1 go build -tags flux.
//     Without the tag every create fails with ErrLibraryNotLinked.
//   - placeholder: renders a gradient with the prompt on it, for development.
//   - remote: an OpenAI-compatible images endpoint.
//
// # Error Handling
//
// Every failure is an *Error with one of four kinds:
//
//   - KindValidation: bad request, engine untouched
//   - KindEngineInit: the engine could not be created
//   - KindGeneration: the engine returned a non-zero status
//   - KindIO: the artifact could not be reserved or verified
//
// Match with errors.Is(err, ErrValidation) and friends, or KindOf(err).
package fluxruntime
