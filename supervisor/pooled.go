package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/pool"
)

// Pooled supervises a connection pool instead of a single handle. Recovery
// is the pool's replacement machinery, driven by a periodic health check;
// the circuit breaker still guards every operation so callers fail fast
// while the whole endpoint is down.
//
// Send is one-way. To pair a send with the peer's answer, use Call, which
// keeps the borrowed connection for the whole round trip. Neither carries
// an ordering guarantee across connections.
type Pooled struct {
	pool    *pool.Pool
	breaker *Breaker

	done      chan struct{}
	closeOnce sync.Once
}

// NewPooled wraps an existing pool. The supervisor owns the health-check
// schedule from then on; the caller should not invoke HealthCheck itself.
func NewPooled(p *pool.Pool, conf common.SupervisorConf) *Pooled {
	conf = conf.WithDefaults()

	s := &Pooled{
		pool:    p,
		breaker: NewBreaker(conf.CircuitFailureThreshold, conf.CircuitSuccessThreshold, conf.CircuitResetTimeout),
		done:    make(chan struct{}),
	}

	ticker := time.NewTicker(conf.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.HealthCheck()
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Breaker exposes the circuit breaker for observation.
func (s *Pooled) Breaker() *Breaker {
	return s.breaker
}

// Send borrows a connection, transmits one payload and returns the
// connection to the pool. Messages sent through a pooled supervisor carry
// no ordering guarantee across connections.
func (s *Pooled) Send(payload []byte) error {
	if err := s.breaker.Allow(); err != nil {
		return err
	}

	h, err := s.pool.Acquire()
	if err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer s.pool.Release(h)

	if err := h.Send(payload); err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	s.breaker.RecordSuccess()
	return nil
}

// Call borrows one connection for a full send/receive round trip: the
// response is the next message arriving on the same connection, which the
// pool's exclusivity guarantee keeps free of foreign replies.
func (s *Pooled) Call(payload []byte) ([]byte, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}

	h, err := s.pool.Acquire()
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer s.pool.Release(h)

	if err := h.Send(payload); err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	msg, err := h.Receive()
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	s.breaker.RecordSuccess()
	return msg.Payload, nil
}

// Close stops the health-check schedule and shuts the pool down.
func (s *Pooled) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pool.Close()
}
