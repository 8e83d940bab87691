// Package ratelimit implements a sliding-window call limiter for adapters
// that self-impose vendor quotas.
//
// DESIGN: Per-key ordered timestamps bounded by a max-count/window pair.
// Eviction is lazy on access - there is no background timer. This is a
// sliding window, not a fixed bucket: a slot frees up exactly when the
// earliest recorded hit ages past the window.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManyRequests is returned by Hit when the trailing window is full.
var ErrTooManyRequests = errors.New("too many requests in window")

// Limiter is a per-key sliding-window limiter. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time
	maxCalls int
	window   time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a limiter allowing maxCalls per key within any trailing
// window.
func New(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		hits:     make(map[string][]time.Time),
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Hit records a call attempt for key. It first evicts timestamps older than
// the trailing window, then rejects with ErrTooManyRequests if maxCalls
// remain, otherwise appends the new attempt.
func (l *Limiter) Hit(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	q := l.hits[key]
	evict := 0
	for evict < len(q) && !q[evict].After(cutoff) {
		evict++
	}
	q = q[evict:]

	if len(q) >= l.maxCalls {
		l.hits[key] = q
		return ErrTooManyRequests
	}
	l.hits[key] = append(q, now)
	return nil
}

// pending returns the number of unexpired hits recorded for key.
func (l *Limiter) pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
