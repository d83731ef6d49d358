package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop: MaxAttempts total tries with exponential backoff
// starting at Base and capped at Max.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Delay returns the wait before attempt (1-based). Attempt 1 never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Attempts returns MaxAttempts, treating anything below 1 as 1.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Wait blocks for the delay before attempt or until ctx is done.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
