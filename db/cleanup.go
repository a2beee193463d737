package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Deleted  int64
	Duration time.Duration
}

// Cleanup deletes generations older than retentionDays and vacuums the
// file. A VACUUM failure is returned but the rows stay deleted.
func (r *Repository) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	if retentionDays <= 0 {
		return CleanupResult{}, fmt.Errorf("db: retention days must be positive, got %d", retentionDays)
	}

	n, err := r.DeleteOlderThan(ctx, start.AddDate(0, 0, -retentionDays))
	res := CleanupResult{Deleted: n}
	if err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	if n > 0 {
		conn, err := r.db.live()
		if err != nil {
			return res, err
		}
		if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("db: cleanup succeeded but VACUUM failed: %w", err)
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// StartCleanupScheduler runs Cleanup now and then every interval until ctx
// ends.
func (r *Repository) StartCleanupScheduler(ctx context.Context, logger *zap.Logger, retentionDays int, interval time.Duration) {
	if logger == nil {
		logger = zap.NewNop()
	}
	run := func() {
		res, err := r.Cleanup(ctx, retentionDays)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("history cleanup failed", zap.Error(err))
			}
			return
		}
		if res.Deleted > 0 {
			logger.Info("history cleanup",
				zap.Int64("deleted", res.Deleted),
				zap.Int("retention_days", retentionDays),
				zap.Duration("duration", res.Duration),
			)
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
