package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/conn"
)

var Logger = logger.GetLogger("wireline/supervisor")

var (
	reconnects     = metrics.GetOrCreateCounter("wireline_reconnects_total")
	heartbeatMiss  = metrics.GetOrCreateCounter("wireline_heartbeat_misses_total")
	permanentFails = metrics.GetOrCreateCounter("wireline_permanent_failures_total")
)

var (
	// ErrNotConnected reports an operation during an outage. The supervisor
	// is reconnecting in the background; callers must not be blocked
	// through the retry.
	ErrNotConnected = errors.New("supervisor: not connected")

	// ErrCircuitOpen reports an operation rejected by the circuit breaker
	// without attempting I/O. Not retryable by the core; callers must wait.
	ErrCircuitOpen = errors.New("supervisor: circuit open")

	// ErrPermanentFailure is terminal: reconnection attempts are exhausted
	// and no further operation will succeed on this supervisor.
	ErrPermanentFailure = errors.New("supervisor: permanent failure")

	// ErrSupervisorClosed reports an operation after Close.
	ErrSupervisorClosed = errors.New("supervisor: closed")
)

// --------------------------------------------------------------------------
// Connection state
// --------------------------------------------------------------------------

// ConnectionState is the supervisor-owned lifecycle of the supervised
// connection. The handle below never decides policy.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateCallback observes supervisor state transitions.
type StateCallback func(old, new ConnectionState)

// DialFunc establishes one new connection handle.
type DialFunc func() (*conn.Handle, error)

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

// Supervisor wraps a single supervised connection. Create it with New; it
// connects and recovers in the background until Close or the reconnect
// budget is exhausted.
type Supervisor struct {
	dial DialFunc
	conf common.SupervisorConf

	breaker *Breaker

	mu     sync.RWMutex
	handle *conn.Handle // nil while disconnected

	state atomic.Int32

	subscribers *xsync.MapOf[uint64, StateCallback]
	nextSubID   atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// New creates a supervisor over dial and starts its recovery loop.
func New(dial DialFunc, conf common.SupervisorConf) *Supervisor {
	conf = conf.WithDefaults()

	s := &Supervisor{
		dial:        dial,
		conf:        conf,
		breaker:     NewBreaker(conf.CircuitFailureThreshold, conf.CircuitSuccessThreshold, conf.CircuitResetTimeout),
		subscribers: xsync.NewMapOf[uint64, StateCallback](),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	s.state.Store(int32(StateDisconnected))

	go s.run()

	return s
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Breaker exposes the circuit breaker for observation.
func (s *Supervisor) Breaker() *Breaker {
	return s.breaker
}

// OnStateChange registers a callback for state transitions and returns an
// unsubscribe function. Callbacks run on their own goroutine and must not
// call back into the supervisor synchronously with blocking operations.
func (s *Supervisor) OnStateChange(cb StateCallback) func() {
	id := s.nextSubID.Add(1)
	s.subscribers.Store(id, cb)
	return func() { s.subscribers.Delete(id) }
}

// Send transmits one payload over the supervised connection. It fails fast
// with a typed error during outages instead of blocking through a retry.
func (s *Supervisor) Send(payload []byte) error {
	if err := s.gate(); err != nil {
		return err
	}
	if err := s.breaker.Allow(); err != nil {
		return err
	}

	h := s.current()
	if h == nil {
		// Not an attempted operation; the breaker only counts real I/O.
		return ErrNotConnected
	}

	if err := h.Send(payload); err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	s.breaker.RecordSuccess()
	return nil
}

// Receive blocks for the next inbound payload on the live connection. It
// fails fast during outages; a connection loss mid-receive surfaces
// ErrNotConnected once buffered messages are drained.
func (s *Supervisor) Receive() ([]byte, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	if s.breaker.State() == CircuitOpen {
		return nil, ErrCircuitOpen
	}

	h := s.current()
	if h == nil {
		return nil, ErrNotConnected
	}

	msg, err := h.Receive()
	if err != nil {
		if gateErr := s.gate(); gateErr != nil {
			return nil, gateErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return msg.Payload, nil
}

// Close shuts the supervisor down, cancelling reconnect timers and the
// heartbeat and unblocking every pending operation.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.done)

		s.mu.Lock()
		h := s.handle
		s.handle = nil
		s.mu.Unlock()

		if h != nil {
			_ = h.Close()
		}

		<-s.loopDone
		s.setState(StateClosed)
	})
	return nil
}

// --------------------------------------------------------------------------
// Recovery loop
// --------------------------------------------------------------------------

// run owns the connection lifecycle: connect with backoff, watch the live
// handle, reconnect on loss, give up after the attempt budget.
func (s *Supervisor) run() {
	defer close(s.loopDone)

	backoff := NewBackoff(s.conf.BackoffBase, s.conf.BackoffMax)
	attempts := 0

	for {
		// Shutdown wins over reconnection: never start another attempt
		// once Close has been called.
		select {
		case <-s.done:
			return
		default:
		}

		s.setState(StateConnecting)

		h, err := s.dial()
		if err != nil {
			attempts++
			Logger.Warningf("connect attempt %d/%d failed: %v", attempts, s.conf.MaxReconnectAttempts, err)

			if attempts >= s.conf.MaxReconnectAttempts {
				permanentFails.Inc()
				Logger.Errorf("reconnect budget exhausted, giving up")
				s.setState(StateFailed)
				return
			}

			// Cancellable backoff wait.
			select {
			case <-time.After(backoff.Next()):
				continue
			case <-s.done:
				return
			}
		}

		// Close may have landed while the dial was in flight; the fresh
		// handle must not outlive shutdown.
		select {
		case <-s.done:
			_ = h.Close()
			return
		default:
		}

		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
		s.setState(StateConnected)
		reconnects.Inc()

		// A connection that stays up for the settle duration resets the
		// attempt budget and the backoff.
		settled := time.AfterFunc(s.conf.SettleDuration, func() {
			backoff.Reset()
		})
		connectedAt := time.Now()

		stop := s.watch(h)
		settled.Stop()
		if time.Since(connectedAt) >= s.conf.SettleDuration {
			attempts = 0
		}

		s.mu.Lock()
		s.handle = nil
		s.mu.Unlock()

		if stop {
			return
		}

		Logger.Infof("connection lost, scheduling reconnect")
		s.setState(StateDisconnected)
	}
}

// watch runs the heartbeat against the live handle until it dies or the
// supervisor closes. It reports true when the supervisor is shutting down.
func (s *Supervisor) watch(h *conn.Handle) bool {
	ticker := time.NewTicker(s.conf.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			_ = h.Close()
			return true

		case <-h.Done():
			return false

		case <-ticker.C:
			// Only inbound traffic counts as liveness. Outbound writes
			// succeed against a silently partitioned peer as long as the
			// kernel ACKs bytes, so they must not suppress the probe.
			if time.Since(h.LastRead()) < s.conf.HeartbeatInterval {
				continue
			}
			if err := h.Ping(s.conf.HeartbeatTimeout); err != nil {
				heartbeatMiss.Inc()
				Logger.Warningf("heartbeat failed, declaring connection dead: %v", err)
				s.setState(StateDegraded)
				_ = h.Close()
				return false
			}
		}
	}
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// gate rejects operations in terminal or closing states.
func (s *Supervisor) gate() error {
	switch s.State() {
	case StateFailed:
		return ErrPermanentFailure
	case StateClosing, StateClosed:
		return ErrSupervisorClosed
	}
	return nil
}

// current returns the live handle, or nil during an outage.
func (s *Supervisor) current() *conn.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// setState publishes a transition to all subscribers. Closing and Closed
// are sticky: once shutdown has been published, the recovery loop cannot
// resurrect the state, only Closing -> Closed remains.
func (s *Supervisor) setState(to ConnectionState) {
	for {
		from := ConnectionState(s.state.Load())
		if from == to {
			return
		}
		if from == StateClosed || (from == StateClosing && to != StateClosed) {
			return
		}
		if !s.state.CompareAndSwap(int32(from), int32(to)) {
			continue
		}
		Logger.Debugf("state %s -> %s", from, to)

		s.subscribers.Range(func(_ uint64, cb StateCallback) bool {
			go cb(from, to)
			return true
		})
		return
	}
}
