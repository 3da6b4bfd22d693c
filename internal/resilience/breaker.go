package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker is
// rejecting calls after too many consecutive failures.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// Breaker is a two-state failure breaker guarding the language-model
// endpoint. After maxFailures consecutive failures it rejects calls for the
// cooldown period, so a dead endpoint fails fast instead of stalling every
// chat message on a full HTTP timeout. After the cooldown one probe call is
// let through; success closes the breaker again.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	consecutive int
	openedAt    time.Time
	open        bool
}

// NewBreaker creates a Breaker. Zero values select 3 failures and a 30s
// cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the breaker is open. While open and inside the
// cooldown it returns [ErrBreakerOpen] without calling fn; after the
// cooldown fn runs as a probe.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		// Cooldown elapsed: let one probe through.
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.consecutive++
		if b.consecutive >= b.maxFailures {
			b.open = true
			b.openedAt = b.now()
		}
		return err
	}
	b.consecutive = 0
	b.open = false
	return nil
}
