// Package ratelimit bounds the I/O and concurrency of bulk dataset
// operations (folder ingestion, export) so they stay polite on shared
// object stores.
package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds bulk-operation resource limits.
type Config struct {
	// MaxConcurrent is the maximum number of in-flight blob operations.
	// If 0, defaults to 1.
	MaxConcurrent int64

	// IOLimitBytesPerSec caps ingestion/export throughput. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Limiter gates bulk operations.
type Limiter struct {
	sem       *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// New creates a Limiter. A nil Limiter is valid and imposes no limits.
func New(cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	l := &Limiter{
		sem: semaphore.NewWeighted(cfg.MaxConcurrent),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		l.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return l
}

// Acquire reserves a concurrency slot, blocking until one is available or
// ctx is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

// Release returns a concurrency slot.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	l.sem.Release(1)
}

// WaitIO waits until the throughput budget allows the given number of bytes.
func (l *Limiter) WaitIO(ctx context.Context, bytes int) error {
	if l == nil || l.ioLimiter == nil {
		return nil
	}
	return l.ioLimiter.WaitN(ctx, bytes)
}
