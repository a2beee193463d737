package server

import (
	"context"
	"sync"
	"time"
)

// Defaults for failed API-key attempts per client IP.
const (
	DefaultAuthAttempts = 5
	DefaultAuthWindow   = time.Minute
	DefaultAuthBlock    = 5 * time.Minute
)

type attemptRecord struct {
	count   int
	resetAt time.Time
}

// RateLimiter blocks a client IP after too many failed API-key attempts
// inside a window. A successful attempt clears the IP.
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]attemptRecord
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

// NewRateLimiter returns a limiter allowing maxAttempts failures per window
// before blocking for block.
func NewRateLimiter(maxAttempts int, window, block time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether ip may try again, and if not, for how long it is
// blocked.
func (r *RateLimiter) Allow(ip string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.attempts[ip]
	now := r.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= r.maxAttempts {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

// RecordFailure counts one failed attempt for ip. Reaching the limit
// extends the record to the block duration.
func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.attempts[ip]
	if !ok || !now.Before(rec.resetAt) {
		rec = attemptRecord{resetAt: now.Add(r.window)}
	}
	rec.count++
	if rec.count == r.maxAttempts {
		rec.resetAt = now.Add(r.block)
	}
	r.attempts[ip] = rec
}

// Reset forgets ip.
func (r *RateLimiter) Reset(ip string) {
	r.mu.Lock()
	delete(r.attempts, ip)
	r.mu.Unlock()
}

// Cleanup drops expired records and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for ip, rec := range r.attempts {
		if !now.Before(rec.resetAt) {
			delete(r.attempts, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupTicker runs Cleanup every interval until ctx ends.
func (r *RateLimiter) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}

// Count returns the number of tracked IPs.
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
