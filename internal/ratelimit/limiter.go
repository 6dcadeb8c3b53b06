// Package ratelimit provides a fixed-window request throttle keyed by
// principal. Counters live in process memory, so the limit is per instance;
// that is acceptable because this is a defense-in-depth throttle, not a
// billing control. Billing correctness belongs to the credit ledger.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// Limiter counts requests per principal over a fixed window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	now     func() time.Time
	windows map[string]*window
}

// New creates a limiter allowing limit requests per window. The clock is
// injected so tests can drive window expiry.
func New(limit int, per time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limit:   limit,
		per:     per,
		now:     now,
		windows: make(map[string]*window),
	}
}

// Check records one request for principal and reports whether it is allowed,
// along with the remaining allowance in the current window. Denial is
// immediate; Check never blocks.
func (l *Limiter) Check(principal string) (remaining int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, found := l.windows[principal]
	if !found || now.After(w.until) {
		w = &window{until: now.Add(l.per)}
		l.windows[principal] = w
	}
	if w.count >= l.limit {
		return 0, false
	}
	w.count++
	return l.limit - w.count, true
}

// RetryAfter returns how long principal must wait before the current window
// resets. Zero when the principal has no active window.
func (l *Limiter) RetryAfter(principal string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[principal]
	if !found {
		return 0
	}
	d := w.until.Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}
