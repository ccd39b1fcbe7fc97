// Package ratelimit implements a fixed-window keyed counter.
//
// The window is hard, not sliding: a burst straddling a window boundary
// can admit up to twice the limit across two adjacent windows. Callers
// size their limits against that behavior, so it must not be swapped for
// a sliding or token-bucket algorithm.
package ratelimit

import (
	"sync"
	"time"
)

// Result describes the outcome of an Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key in fixed windows. Safe for concurrent
// use; production deployments that run multiple instances should front it
// with a shared store implementing the same contract.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New constructs an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// NewWithClock constructs a Limiter with an injected time source.
func NewWithClock(now func() time.Time) *Limiter {
	l := New()
	if now != nil {
		l.now = now
	}
	return l
}

// Allow records one request against key and reports whether it fits
// within maxRequests per windowDur. The first request of a window (or the
// first after ResetAt has passed) always succeeds and starts a fresh
// window.
func (l *Limiter) Allow(key string, maxRequests int, windowDur time.Duration) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(windowDur)}
		l.windows[key] = w
		return Result{Allowed: true, Remaining: maxRequests - 1, ResetAt: w.resetAt}
	}

	if w.count >= maxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: maxRequests - w.count, ResetAt: w.resetAt}
}

// Sweep drops expired windows to bound memory.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartJanitor sweeps expired windows every interval until stop is
// closed.
func (l *Limiter) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
