package fluxruntime

import (
	"fmt"
	"strings"
)

// Backend creates engine handles. It is the "create" half of the engine
// boundary; everything else lives on Handle.
//
// A Backend must return either a usable Handle or a non-nil error. A nil
// Handle with a nil error is treated as a failed create.
type Backend interface {
	Create(modelDir string, useMmap bool) (Handle, error)
}

// Handle is the opaque, resident engine instance.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize every method through the Gate. Status codes follow the C API:
// zero is success, anything else is failure with details in LastError.
type Handle interface {
	// TextToImage renders prompt with p and writes a PNG to outPath.
	TextToImage(prompt string, p Params, outPath string) int

	// ImageToImage transforms the image at inPath. Zero Width/Height in p
	// mean "use the input image's dimensions".
	ImageToImage(prompt, inPath string, p Params, outPath string) int

	// LastError is only meaningful immediately after a non-zero status.
	LastError() string

	// Destroy releases the engine. The handle must not be used afterwards.
	Destroy()
}

// Backend names accepted by NewBackend.
const (
	BackendNative      = "native"
	BackendPlaceholder = "placeholder"
	BackendRemote      = "remote"
)

// BackendOptions carries the settings a backend may need.
type BackendOptions struct {
	Remote RemoteConfig
}

// NewBackend selects a backend by name.
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendNative:
		return NewNativeBackend(), nil
	case BackendPlaceholder:
		return NewPlaceholderBackend(), nil
	case BackendRemote:
		return NewRemoteBackend(opts.Remote), nil
	default:
		return nil, fmt.Errorf("fluxruntime: unknown backend %q (want %s, %s or %s)",
			name, BackendNative, BackendPlaceholder, BackendRemote)
	}
}
