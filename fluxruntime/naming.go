package fluxruntime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// OutputPrefix and OutputExt frame every artifact name: flux_<epoch_ms>.png.
const (
	OutputPrefix = "flux_"
	OutputExt    = ".png"
)

var outputNamePattern = regexp.MustCompile(`^flux_[0-9]+\.png$`)

// IsOutputName reports whether name (a base name, not a path) looks like an
// artifact produced by OutputNamer.
func IsOutputName(name string) bool {
	return outputNamePattern.MatchString(name)
}

// pngSignature is the 8-byte PNG file header.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// OutputNamer hands out artifact paths of the form <dir>/flux_<epoch_ms>.png.
//
// Stamps are strictly increasing within one namer: if the clock has not moved
// past the last stamp, the last stamp plus one is used. Each path is reserved
// with an exclusive create, so a file left by another process surfaces as a
// KindIO error instead of being overwritten.
type OutputNamer struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// NewOutputNamer returns a namer for dir. An empty dir means os.TempDir().
func NewOutputNamer(dir string) *OutputNamer {
	if dir == "" {
		dir = os.TempDir()
	}
	return &OutputNamer{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (n *OutputNamer) Dir() string {
	return n.dir
}

// nextStamp returns a millisecond stamp greater than every stamp returned
// before it.
func (n *OutputNamer) nextStamp() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ms := n.now().UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	return ms
}

// Reserve creates an empty file at the next artifact path and returns the
// path. The caller owns the file and must Release it on failure.
func (n *OutputNamer) Reserve() (string, error) {
	path := filepath.Join(n.dir, OutputPrefix+strconv.FormatInt(n.nextStamp(), 10)+OutputExt)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", ioError("reserve", path, fmt.Errorf("%w: %v", ErrOutputExists, err))
		}
		return "", ioError("reserve", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", ioError("reserve", path, err)
	}
	return path, nil
}

// Release removes a reserved or partially written artifact. Missing files
// are ignored.
func (n *OutputNamer) Release(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// VerifyArtifact checks that path holds a non-empty file starting with the
// PNG signature.
func VerifyArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioError("verify", path, err)
	}
	defer f.Close()

	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) {
			return ioError("verify", path, errors.New("engine reported success but wrote an empty file"))
		}
		return ioError("verify", path, fmt.Errorf("truncated artifact: %w", err))
	}
	if !bytes.Equal(header, pngSignature) {
		return ioError("verify", path, errors.New("artifact is not a PNG"))
	}
	return nil
}
