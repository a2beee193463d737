package core

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build metadata, injected with:
//
//	go build -ldflags "-X fluxserve/core.Version=v0.3.0 -X fluxserve/core.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns Version.
func GetVersion() string {
	return Version
}

// GetGitCommit returns GitCommit, falling back to the VCS revision the Go
// toolchain stamped into the binary.
func GetGitCommit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return GitCommit
}

// GetVersionInfo returns a one-line version summary.
//
//	v0.3.0 (built 2026-01-15T10:30:00Z, commit abc1234, go1.24.1 linux/amd64)
func GetVersionInfo() string {
	return fmt.Sprintf("%s (built %s, commit %s, %s %s/%s)",
		Version, BuildTime, GetGitCommit(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
