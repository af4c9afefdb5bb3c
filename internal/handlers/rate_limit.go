package handlers

import (
	"sync"
	"time"
)

const (
	defaultSubmitLimit  = 10
	defaultSubmitWindow = time.Minute
)

// windowLimiter allows limit hits per key within each fixed window.
type windowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	hits  int
	until time.Time
}

func newWindowLimiter(limit int, every time.Duration, now func() time.Time) *windowLimiter {
	if limit <= 0 || every <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &windowLimiter{limit: limit, window: every, now: now, windows: make(map[string]window)}
}

// Allow records a hit for key and reports whether it is within the limit. A nil limiter
// allows everything.
func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.until) {
		l.evictLocked(now)
		l.windows[key] = window{hits: 1, until: now.Add(l.window)}
		return true
	}
	if current.hits >= l.limit {
		return false
	}
	current.hits++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) evictLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.until) {
			delete(l.windows, key)
		}
	}
}
