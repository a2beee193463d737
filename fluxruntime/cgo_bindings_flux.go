//go:build flux && cgo

// Real CGo implementation of the libfluxserver bindings.
// Build with: CGO_ENABLED=1 go build -tags flux

package fluxruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../third_party/flux
#cgo LDFLAGS: -L${SRCDIR}/../third_party/flux/build -lfluxserver
#cgo linux LDFLAGS: -Wl,-rpath,${SRCDIR}/../third_party/flux/build

#include <stdlib.h>
#include "flux_api.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"unsafe"
)

type nativeHandle struct {
	e *C.flux_engine
}

func createNativeImpl(modelDir string, useMmap bool) (Handle, error) {
	if _, err := os.Stat(modelDir); err != nil {
		return nil, err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cDir := C.CString(modelDir)
	defer C.free(unsafe.Pointer(cDir))

	mmap := C.int(0)
	if useMmap {
		mmap = 1
	}

	e := C.flux_engine_create(cDir, mmap)
	if e == nil {
		// flux_engine_create frees its error buffer on failure.
		return nil, errors.New("flux_engine_create returned NULL")
	}
	return &nativeHandle{e: e}, nil
}

func toCParams(p Params) C.flux_params_c {
	return C.flux_params_c{
		width:          C.int(p.Width),
		height:         C.int(p.Height),
		num_steps:      C.int(p.NumSteps),
		guidance_scale: C.float(p.GuidanceScale),
		seed:           C.int64_t(p.Seed),
		strength:       C.float(p.Strength),
	}
}

func (h *nativeHandle) TextToImage(prompt string, p Params, outPath string) int {
	if h.e == nil {
		return 1
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cOut := C.CString(outPath)
	defer C.free(unsafe.Pointer(cOut))

	cp := toCParams(p)
	return int(C.flux_engine_txt2img_to_file(h.e, cPrompt, &cp, cOut))
}

func (h *nativeHandle) ImageToImage(prompt, inPath string, p Params, outPath string) int {
	if h.e == nil {
		return 1
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cIn := C.CString(inPath)
	defer C.free(unsafe.Pointer(cIn))
	cOut := C.CString(outPath)
	defer C.free(unsafe.Pointer(cOut))

	cp := toCParams(p)
	return int(C.flux_engine_img2img_to_file(h.e, cPrompt, cIn, &cp, cOut))
}

func (h *nativeHandle) LastError() string {
	if h.e == nil {
		return "engine is NULL"
	}
	return C.GoString(C.flux_engine_last_error(h.e))
}

func (h *nativeHandle) Destroy() {
	if h.e == nil {
		return
	}
	C.flux_engine_destroy(h.e)
	h.e = nil
}

func backendInfoImpl() string {
	return fmt.Sprintf("libfluxserver (cgo, %s/%s)", runtime.GOOS, runtime.GOARCH)
}
