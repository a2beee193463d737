// Package fluxruntime provides CGo bindings for libfluxserver.
//
// This file holds the build-independent half of the native backend. The
// implementation lives in cgo_bindings_flux.go (real library) and
// cgo_bindings_stub.go (no library).
//
// Example build with the real library:
//
//	CGO_CFLAGS="-I/path/to/flux" \
//	CGO_LDFLAGS="-L/path/to/flux/build -lfluxserver" \
//	go build -tags flux
package fluxruntime

// NativeBackend creates engines through libfluxserver's C API
// (flux_api.h). Without the flux build tag every Create fails with
// ErrLibraryNotLinked.
type NativeBackend struct{}

// NewNativeBackend returns the libfluxserver backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

// Create loads the model directory into a new engine.
func (b *NativeBackend) Create(modelDir string, useMmap bool) (Handle, error) {
	return createNativeImpl(modelDir, useMmap)
}

// BackendInfo reports whether the native library is linked in.
func BackendInfo() string {
	return backendInfoImpl()
}
