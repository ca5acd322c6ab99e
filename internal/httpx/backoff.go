package httpx

import (
	"math/rand/v2"
	"time"
)

// Delay yields the wait before the attempt following a failure.
type Delay interface {
	// ForAttempt returns the delay after the given failed attempt (0-indexed).
	ForAttempt(attempt int) time.Duration
}

// FixedDelay waits the same duration between every attempt.
type FixedDelay time.Duration

// ForAttempt implements Delay.
func (d FixedDelay) ForAttempt(int) time.Duration {
	return time.Duration(d)
}

// Backoff doubles the delay after every failed attempt up to MaxDelay, then
// spreads it by Jitter (0..1) in either direction.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// NewBackoff returns a Backoff with defaults for non-positive arguments.
func NewBackoff(base, ceiling time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{BaseDelay: base, MaxDelay: ceiling, Jitter: min(max(jitter, 0), 1)}
}

// ForAttempt implements Delay.
func (b *Backoff) ForAttempt(attempt int) time.Duration {
	delay := b.BaseDelay
	for i := 0; i < attempt && delay < b.MaxDelay; i++ {
		delay *= 2
	}
	if delay <= 0 || delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	if b.Jitter == 0 {
		return delay
	}
	factor := 1 + (rand.Float64()*2-1)*b.Jitter
	return time.Duration(float64(delay) * factor)
}
