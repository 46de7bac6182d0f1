package supervisor

import (
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with jitter. It only computes
// delays; the caller decides how to wait, which keeps reconnect timers
// cancellable.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		base:    base,
		max:     max,
		current: base,
	}
}

// Next returns the delay for the upcoming attempt with ±20% jitter applied,
// and doubles the underlying delay up to the cap.
func (b *Backoff) Next() time.Duration {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	delay := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	return delay
}

// Reset restores the initial delay. Called once a connection has stayed up
// for the settle duration.
func (b *Backoff) Reset() {
	b.current = b.base
}

// Current returns the undithered delay of the upcoming attempt.
func (b *Backoff) Current() time.Duration {
	return b.current
}
