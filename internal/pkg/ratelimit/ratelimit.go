// Package ratelimit is first-line request throttling. Counters live in
// process memory (or Redis for multi-instance deployments), are approximate
// and may be dropped at any time without affecting correctness elsewhere.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterMs returns the wait in whole milliseconds, rounded up.
func (r Result) RetryAfterMs() int64 {
	if r.Allowed || r.RetryAfter <= 0 {
		return 0
	}
	return int64((r.RetryAfter + time.Millisecond - 1) / time.Millisecond)
}

// Limiter checks and counts one call for key.
type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
}

type window struct {
	count int
	start time.Time
}

// FixedWindow allows limit calls per key in each window. A key's window
// starts on its first call and restarts once it has fully elapsed.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(fw *FixedWindow) {
		fw.now = now
	}
}

// NewFixedWindow creates a limiter. Call Start to evict expired keys in the background.
func NewFixedWindow(limit int, period time.Duration, opts ...Option) *FixedWindow {
	fw := &FixedWindow{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fw)
	}
	return fw
}

// Check counts one call and reports whether it is within the limit.
func (fw *FixedWindow) Check(_ context.Context, key string) (Result, error) {
	return fw.Allow(key), nil
}

// Allow is Check without the Limiter plumbing.
func (fw *FixedWindow) Allow(key string) Result {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := fw.now()
	w, ok := fw.windows[key]
	if !ok || now.Sub(w.start) >= fw.period {
		fw.windows[key] = &window{count: 1, start: now}
		return Result{Allowed: true}
	}

	w.count++
	if w.count > fw.limit {
		return Result{Allowed: false, RetryAfter: fw.period - now.Sub(w.start)}
	}
	return Result{Allowed: true}
}

// Len returns the number of tracked keys.
func (fw *FixedWindow) Len() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.windows)
}

// Start evicts expired keys every interval until Stop is called.
func (fw *FixedWindow) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fw.cleanup()
			case <-fw.stopCh:
				return
			}
		}
	}()
}

// Stop ends the eviction goroutine. It is safe to call more than once.
func (fw *FixedWindow) Stop() {
	fw.stopOnce.Do(func() {
		close(fw.stopCh)
	})
}

func (fw *FixedWindow) cleanup() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := fw.now()
	for key, w := range fw.windows {
		if now.Sub(w.start) >= fw.period {
			delete(fw.windows, key)
		}
	}
}
