package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/conn"
)

var Logger = logger.GetLogger("wireline/pool")

var (
	dialFailures = metrics.GetOrCreateCounter("wireline_pool_dial_failures_total")
	evictions    = metrics.GetOrCreateCounter("wireline_pool_evictions_total")
)

var (
	// ErrExhausted reports that Acquire could not produce a handle: the pool
	// is at capacity with no idle entry within the acquire timeout, or
	// dialing failed beyond the retry budget.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrPoolClosed reports an operation on a closed pool.
	ErrPoolClosed = errors.New("pool: closed")
)

// DialFunc establishes one new connection handle.
type DialFunc func() (*conn.Handle, error)

// entry is one pool slot. The slot persists; the handle inside it may be
// replaced many times.
type entry struct {
	handle          *conn.Handle
	lastHealthCheck time.Time
	healthy         bool
	inUse           bool
	idleSince       time.Time
}

// Pool manages up to maxSize connection handles to one endpoint.
type Pool struct {
	dial DialFunc
	conf common.PoolConf

	mu      sync.Mutex
	cond    *sync.Cond
	entries []*entry
	growing int // dials in flight, counted against capacity
	closed  bool
}

// New creates a pool. Connections are established lazily by Acquire.
func New(dial DialFunc, conf common.PoolConf) *Pool {
	if conf.MaxSize <= 0 {
		conf.MaxSize = common.DefaultMaxPoolSize
	}
	if conf.DialRetryBudget <= 0 {
		conf.DialRetryBudget = common.DefaultDialRetryBudget
	}
	if conf.AcquireTimeout <= 0 {
		conf.AcquireTimeout = common.DefaultAcquireTimeout
	}
	p := &Pool{dial: dial, conf: conf}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Len returns the number of live slots (borrowed or idle).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) + p.growing
}

// Acquire returns a handle for exclusive use until Release. It reuses the
// longest-idle healthy entry, grows the pool if below capacity, and
// otherwise blocks until a slot frees up or the acquire timeout elapses.
func (p *Pool) Acquire() (*conn.Handle, error) {
	var deadline time.Time
	if p.conf.AcquireTimeout > 0 {
		deadline = time.Now().Add(p.conf.AcquireTimeout)
		// Wake the wait loop when the deadline passes; Wait alone has no
		// timeout.
		timer := time.AfterFunc(p.conf.AcquireTimeout, func() { p.cond.Broadcast() })
		defer timer.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, ErrPoolClosed
		}

		p.pruneLocked()

		if e := p.idleLocked(); e != nil {
			e.inUse = true
			return e.handle, nil
		}

		if len(p.entries)+p.growing < p.conf.MaxSize {
			return p.growLocked()
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: no idle connection within %s", ErrExhausted, p.conf.AcquireTimeout)
		}
		p.cond.Wait()
	}
}

// Release returns a borrowed handle. Releasing a dead handle drops its slot
// so a later Acquire can dial a replacement.
func (p *Pool) Release(h *conn.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.handle != h {
			continue
		}
		if h.State() == conn.StateClosed {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			evictions.Inc()
		} else {
			e.inUse = false
			e.idleSince = time.Now()
		}
		p.cond.Broadcast()
		return
	}
	// Unknown handle: the slot was already evicted by a health check.
	_ = h.Close()
}

// HealthCheck probes every idle entry with a protocol-level ping. Failed
// entries are closed and replaced asynchronously. Borrowed entries are
// skipped: their borrower observes the failure on the next call.
func (p *Pool) HealthCheck() {
	probeTimeout := p.conf.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = time.Second
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var probed []*entry
	for _, e := range p.entries {
		if e.inUse {
			continue
		}
		// Borrow the entry for the duration of the probe so Acquire cannot
		// hand it out mid-check.
		e.inUse = true
		probed = append(probed, e)
	}
	p.mu.Unlock()

	for _, e := range probed {
		err := e.handle.Ping(probeTimeout)

		p.mu.Lock()
		e.lastHealthCheck = time.Now()
		if err == nil {
			e.healthy = true
			e.inUse = false
			e.idleSince = time.Now()
			p.cond.Broadcast()
			p.mu.Unlock()
			continue
		}

		Logger.Warningf("health check failed, replacing connection: %v", err)
		e.healthy = false
		p.mu.Unlock()

		_ = e.handle.Close()
		go p.replace(e)
	}
}

// Close shuts down every handle and unblocks all waiters.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, e := range entries {
		_ = e.handle.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// pruneLocked drops slots whose handle died while idle.
func (p *Pool) pruneLocked() {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if !e.inUse && e.handle.State() == conn.StateClosed {
			evictions.Inc()
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
}

// idleLocked returns the healthy idle entry that has been idle longest.
func (p *Pool) idleLocked() *entry {
	var oldest *entry
	for _, e := range p.entries {
		if e.inUse || !e.healthy {
			continue
		}
		if oldest == nil || e.idleSince.Before(oldest.idleSince) {
			oldest = e
		}
	}
	return oldest
}

// growLocked dials a new connection with the retry budget, releasing the
// lock around the dial. The in-flight dial is counted against capacity so
// concurrent Acquires cannot overshoot maxSize.
func (p *Pool) growLocked() (*conn.Handle, error) {
	p.growing++
	p.mu.Unlock()

	h, err := p.dialWithRetry()

	p.mu.Lock()
	p.growing--

	if err != nil {
		p.cond.Broadcast()
		return nil, err
	}
	if p.closed {
		_ = h.Close()
		return nil, ErrPoolClosed
	}

	p.entries = append(p.entries, &entry{
		handle:    h,
		healthy:   true,
		inUse:     true,
		idleSince: time.Now(),
	})
	return h, nil
}

// dialWithRetry attempts up to the retry budget with exponential backoff
// and a small random jitter between attempts.
func (p *Pool) dialWithRetry() (*conn.Handle, error) {
	var lastErr error
	backoffMs := 50

	for attempt := 0; attempt < p.conf.DialRetryBudget; attempt++ {
		if attempt > 0 {
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}

		h, err := p.dial()
		if err == nil {
			return h, nil
		}
		lastErr = err
		dialFailures.Inc()
		Logger.Debugf("dial attempt %d/%d failed: %v", attempt+1, p.conf.DialRetryBudget, err)
	}

	return nil, fmt.Errorf("%w: dial failed after %d attempts: %v", ErrExhausted, p.conf.DialRetryBudget, lastErr)
}

// replace dials a fresh connection for a slot whose handle failed a health
// check. On success the slot goes back into rotation; on failure it is
// dropped and capacity is freed for a later Acquire.
func (p *Pool) replace(e *entry) {
	h, err := p.dialWithRetry()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if err == nil {
			_ = h.Close()
		}
		return
	}

	for i, cur := range p.entries {
		if cur != e {
			continue
		}
		if err != nil {
			Logger.Errorf("failed to replace unhealthy connection: %v", err)
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			evictions.Inc()
		} else {
			e.handle = h
			e.healthy = true
			e.inUse = false
			e.idleSince = time.Now()
		}
		p.cond.Broadcast()
		return
	}

	// Slot vanished while redialing (pool closed it); discard the dial.
	if err == nil {
		_ = h.Close()
	}
}
