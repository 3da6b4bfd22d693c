// Package resilience provides the small fault-handling primitives shared by
// the behavior arbiter and the AI translator: a category-keyed log
// suppressor, a bounded retry helper, and a failure-counting breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"sync"
	"time"
)

// LogLimiter suppresses repeated events within a fixed window, keyed by an
// arbitrary category string. It replaces ad hoc timestamp bookkeeping at the
// call sites that report sustained failures (a flee goal that stays
// unreachable produces one log line per window, not one per health tick).
type LogLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLogLimiter creates a limiter that allows one event per category per
// window. A zero window allows everything.
func NewLogLimiter(window time.Duration) *LogLimiter {
	return &LogLimiter{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether an event in category may be emitted now, and if so
// records the emission. The first event of a category is always allowed.
func (l *LogLimiter) Allow(category string) bool {
	if l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[category]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[category] = now
	return true
}

// Reset forgets the suppression state for category, so the next event is
// emitted regardless of the window. Used when a failure condition clears.
func (l *LogLimiter) Reset(category string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, category)
}
