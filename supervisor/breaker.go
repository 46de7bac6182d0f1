package supervisor

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var circuitTransitions = metrics.GetOrCreateCounter("wireline_circuit_transitions_total")

// CircuitState is the fault-isolation state of the breaker.
type CircuitState int32

const (
	// CircuitClosed is normal operation.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects operations without attempting I/O.
	CircuitOpen
	// CircuitHalfOpen lets one trial operation through at a time.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive operation failures and isolates a failing
// connection. It is owned by one supervisor instance and mutated only
// through its own synchronized methods.
type Breaker struct {
	mu sync.Mutex

	state            CircuitState
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	consecFailures  int
	consecSuccesses int
	trialInFlight   bool
	openedAt        time.Time

	now func() time.Time // injectable for tests
}

// NewBreaker creates a closed breaker with the given thresholds.
func NewBreaker(failureThreshold, successThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// State returns the current circuit state. An Open breaker past its reset
// timeout still reports Open here; the transition to HalfOpen happens on
// the next Allow.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether an operation may proceed. In the Open state it
// transitions to HalfOpen once the reset timeout has elapsed and admits
// exactly one trial operation at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		b.consecSuccesses = 0
		b.trialInFlight = true
		return nil

	case CircuitHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess notes one successful operation.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecFailures = 0

	if b.state == CircuitHalfOpen {
		b.trialInFlight = false
		b.consecSuccesses++
		if b.consecSuccesses >= b.successThreshold {
			b.transition(CircuitClosed)
			b.consecSuccesses = 0
		}
	}
}

// RecordFailure notes one failed operation.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.consecFailures++
		if b.consecFailures >= b.failureThreshold {
			b.open()
		}

	case CircuitHalfOpen:
		// Any failure during the trial phase re-opens the circuit.
		b.trialInFlight = false
		b.consecSuccesses = 0
		b.open()
	}
}

// open and transition assume b.mu is held.

func (b *Breaker) open() {
	b.transition(CircuitOpen)
	b.openedAt = b.now()
	b.consecFailures = 0
}

func (b *Breaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	Logger.Infof("circuit breaker %s -> %s", b.state, to)
	b.state = to
	circuitTransitions.Inc()
}
