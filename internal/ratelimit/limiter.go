// Package ratelimit provides per-source-IP admission control.
package ratelimit

import (
	"sync"
	"time"
)

type record struct {
	count       int
	windowStart time.Time
}

// Limiter tracks connection counts per IP over a sliding window.
// It is the only piece of state shared across sessions; a single mutex
// over the whole table is sufficient since contention is bounded by
// connection rate, not session duration.
type Limiter struct {
	mu     sync.Mutex
	table  map[string]*record
	max    int
	window time.Duration
	now    func() time.Time
}

// New creates a limiter allowing max connections per IP within window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		table:  make(map[string]*record),
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Admit reports whether ip may open another connection, recording the
// connection if admitted. Expired entries are evicted lazily on each call,
// which bounds the table to currently-active IPs without a sweeper.
func (l *Limiter) Admit(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, r := range l.table {
		if now.Sub(r.windowStart) >= l.window {
			delete(l.table, k)
		}
	}

	r, ok := l.table[ip]
	if !ok {
		l.table[ip] = &record{count: 1, windowStart: now}
		return true
	}

	if now.Sub(r.windowStart) >= l.window {
		r.count = 1
		r.windowStart = now
		return true
	}
	if r.count < l.max {
		r.count++
		return true
	}
	return false
}

// Count returns the current recorded connection count for ip.
func (l *Limiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.table[ip]
	if !ok {
		return 0
	}
	return r.count
}
