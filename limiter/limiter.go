package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("wireline/limiter")

var (
	admitted = metrics.GetOrCreateCounter("wireline_limiter_admitted_total")
	rejected = metrics.GetOrCreateCounter("wireline_limiter_rejected_total")
)

// ErrLimiterClosed reports an Acquire on a closed limiter.
var ErrLimiterClosed = errors.New("limiter: closed")

// Limiter admits at most maxPerWindow operations per sliding window.
// The zero value is not usable; create with New.
type Limiter struct {
	maxPerWindow int
	window       time.Duration

	mu     sync.Mutex
	stamps []time.Time // admission times, oldest first
	closed bool

	now func() time.Time
}

// New creates a limiter admitting maxPerWindow operations per window.
func New(maxPerWindow int, window time.Duration) *Limiter {
	return &Limiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		now:          time.Now,
	}
}

// TryAcquire admits one operation if the window has room. It never blocks.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	now := l.now()
	l.evict(now)

	if len(l.stamps) >= l.maxPerWindow {
		rejected.Inc()
		return false
	}

	l.stamps = append(l.stamps, now)
	admitted.Inc()
	return true
}

// Acquire blocks until the window has room, the context is cancelled or
// the limiter is closed. The wait is bounded: the window drains at a known
// rate, so Acquire sleeps exactly until the oldest admission expires.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, err := l.tryOrWait()
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Close rejects all future admissions. Pending Acquire calls return
// ErrLimiterClosed on their next wakeup.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Len reports how many admissions currently occupy the window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.stamps)
}

// tryOrWait admits immediately (wait 0) or reports how long until the
// oldest admission leaves the window.
func (l *Limiter) tryOrWait() (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLimiterClosed
	}

	now := l.now()
	l.evict(now)

	if len(l.stamps) < l.maxPerWindow {
		l.stamps = append(l.stamps, now)
		admitted.Inc()
		return 0, nil
	}

	wait := l.stamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, nil
}

// evict drops admissions older than the window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
