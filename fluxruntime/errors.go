package fluxruntime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure surfaced by the runtime.
// Every error returned from the Executor and Service carries exactly one kind.
type ErrorKind int

const (
	// KindUnknown is never produced by this package; it is the zero value
	// returned by KindOf for foreign errors.
	KindUnknown ErrorKind = iota

	// KindValidation means caller-supplied parameters are out of contract.
	// The engine was never touched.
	KindValidation

	// KindEngineInit means the engine could not be created.
	KindEngineInit

	// KindGeneration means the engine ran but reported failure.
	KindGeneration

	// KindIO means the output artifact could not be reserved, written or verified.
	KindIO
)

// String returns the wire name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEngineInit:
		return "engine_init"
	case KindGeneration:
		return "generation"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. Use errors.Is against these:
//
//	if errors.Is(err, fluxruntime.ErrValidation) {
//	    // fix the request and try again
//	}
var (
	ErrValidation = errors.New("fluxruntime: invalid request")
	ErrEngineInit = errors.New("fluxruntime: engine initialization failed")
	ErrGeneration = errors.New("fluxruntime: image generation failed")
	ErrIO         = errors.New("fluxruntime: output artifact error")
)

// Lifecycle errors.
var (
	// ErrSessionClosed is wrapped into a KindEngineInit error once the
	// SessionManager has been closed for shutdown.
	ErrSessionClosed = errors.New("fluxruntime: session is closed")

	// ErrLibraryNotLinked is returned by the native backend when the binary
	// was built without the flux tag.
	ErrLibraryNotLinked = errors.New("fluxruntime: libfluxserver not linked (build with -tags flux)")

	// ErrOutputExists is wrapped into a KindIO error when the reserved output
	// path already exists on disk.
	ErrOutputExists = errors.New("fluxruntime: output path already exists")
)

// Error is the structured failure returned across the caller boundary.
// It carries the kind, the operation that failed, the raw engine status code
// (zero when not applicable) and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Op      string // e.g. "validate", "create", "txt2img", "reserve"
	Code    int    // engine status code, 0 if none
	Message string
	Err     error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("fluxruntime %s: %s", e.Op, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers do not need errors.As for the
// common case.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrEngineInit:
		return e.Kind == KindEngineInit
	case ErrGeneration:
		return e.Kind == KindGeneration
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

// KindOf returns the kind of err, or KindUnknown if err is not (and does not
// wrap) an *Error.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Message: fmt.Sprintf(format, args...)}
}

func engineInitError(modelDir string, err error) *Error {
	return &Error{
		Kind:    KindEngineInit,
		Op:      "create",
		Message: fmt.Sprintf("failed to create engine for model %q (check model path / deps)", modelDir),
		Err:     err,
	}
}

// generationError builds the KindGeneration error for a non-zero status.
// An empty lastErr falls back to a generic message carrying the status code.
func generationError(op string, code int, lastErr string) *Error {
	msg := lastErr
	if msg == "" {
		msg = fmt.Sprintf("generation failed (rc=%d)", code)
	}
	return &Error{Kind: KindGeneration, Op: op, Code: code, Message: msg}
}

func ioError(op, path string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Message: fmt.Sprintf("output %s", path), Err: err}
}
