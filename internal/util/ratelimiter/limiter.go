package ratelimiter

import (
	"sync"
	"time"
)

// Limiter gates an action to at most once per interval. It is safe for
// concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
}

// New creates a limiter with the given interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Allow reports whether the action may run now. When it returns true the
// current time is recorded as the last allowed time; otherwise the remaining
// wait is returned.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	since := now.Sub(l.lastAllowed)
	if since >= l.interval {
		l.lastAllowed = now
		return true, 0
	}
	return false, l.interval - since
}

// Reset clears the limiter so the next Allow succeeds immediately. The
// refresher calls this when an allowed attempt fails, keeping the cadence of
// retrying on the very next check instead of waiting out a full interval.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.mu.Unlock()
}

// Interval returns the configured interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
