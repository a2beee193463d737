package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OutputSweeper periodically removes artifacts older than a TTL so an
// unattended server does not fill its output directory.
type OutputSweeper struct {
	logger   *zap.Logger
	dir      string
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewOutputSweeper returns a sweeper for dir. The sweep interval is a
// quarter of ttl, bounded to [1s, 5m].
func NewOutputSweeper(logger *zap.Logger, dir string, ttl time.Duration) *OutputSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := min(max(ttl/4, time.Second), 5*time.Minute)
	return &OutputSweeper{
		logger:   logger,
		dir:      dir,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Sweep runs one pass and returns the number of files removed.
func (s *OutputSweeper) Sweep(ctx context.Context) int {
	n := RemoveOutputsOlderThan(ctx, s.logger, s.dir, s.now().Add(-s.ttl))
	if n > 0 {
		s.logger.Debug("swept expired outputs", zap.String("dir", s.dir), zap.Int("removed", n))
	}
	return n
}

// Run sweeps on every tick until ctx ends or Stop is called.
func (s *OutputSweeper) Run(ctx context.Context) {
	s.started.Store(true)
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("output sweeper started", zap.String("dir", s.dir), zap.Duration("ttl", s.ttl))
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop ends Run and waits for it to return, or for ctx to end. It has the
// ShutdownFunc signature so it can be registered directly.
func (s *OutputSweeper) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
