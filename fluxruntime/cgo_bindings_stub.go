//go:build !flux || !cgo

// Stub implementation of the native backend for builds without libfluxserver.

package fluxruntime

import "fmt"

func createNativeImpl(modelDir string, useMmap bool) (Handle, error) {
	return nil, fmt.Errorf("%w: cannot load %s", ErrLibraryNotLinked, modelDir)
}

func backendInfoImpl() string {
	return "stub (no libfluxserver linked)"
}
