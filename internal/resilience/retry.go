package resilience

import (
	"context"
	"errors"
	"time"
)

// Permanent wraps an error to tell [Retry] not to attempt again. A malformed
// model reply is permanent — retrying would hammer the model on a systematic
// prompt/response mismatch — while a transport failure is worth one more try.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string {
	return p.Err.Error()
}

func (p *Permanent) Unwrap() error {
	return p.Err
}

// IsPermanent reports whether err carries a [Permanent] marker.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Retry runs fn up to attempts times, sleeping delay between tries. It stops
// early on success, on a [Permanent] error, or when ctx is cancelled. The
// last error is returned unwrapped from its Permanent marker.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var p *Permanent
		if errors.As(err, &p) {
			return p.Err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
