package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"fluxserve/core"
	"fluxserve/fluxruntime"
)

// CleanupOutputs returns a handler that removes every generated artifact
// (flux_<digits>.png) left in dir. Other files are never touched. Failures
// are logged and do not fail shutdown.
func CleanupOutputs(logger *zap.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removed, failed := removeOutputs(ctx, logger, dir, time.Time{})
		if removed > 0 || failed > 0 {
			logger.Info("removed leftover outputs",
				zap.String("dir", dir),
				zap.Int("removed", removed),
				zap.Int("failed", failed),
			)
		}
		return nil
	}
}

// RemoveOutputDir returns a handler that removes dir once it is empty. It is
// registered only for a directory the process created itself. A directory
// that still holds files is kept and logged.
func RemoveOutputDir(logger *zap.Logger, dir string) core.ShutdownFunc {
	return func(context.Context) error {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			logger.Warn("output dir kept", zap.String("dir", dir), zap.Error(err))
		}
		return nil
	}
}

// RemoveOutputsOlderThan deletes artifacts in dir last modified before
// cutoff and returns how many were removed.
func RemoveOutputsOlderThan(ctx context.Context, logger *zap.Logger, dir string, cutoff time.Time) int {
	removed, _ := removeOutputs(ctx, logger, dir, cutoff)
	return removed
}

// removeOutputs deletes artifacts in dir. A zero cutoff removes all of them.
func removeOutputs(ctx context.Context, logger *zap.Logger, dir string, cutoff time.Time) (removed, failed int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot list output directory", zap.String("dir", dir), zap.Error(err))
		}
		return 0, 0
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			logger.Warn("output cleanup interrupted", zap.Int("removed", removed))
			return removed, failed
		}
		if e.IsDir() || !fluxruntime.IsOutputName(e.Name()) {
			continue
		}
		if !cutoff.IsZero() {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			failed++
			logger.Warn("failed to remove output", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, failed
}
