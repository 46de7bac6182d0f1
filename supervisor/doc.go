// Package supervisor turns an unreliable connection into an auto-recovering
// message channel. It composes three cooperating state machines around a
// connection handle (or a pool of them):
//
//   - Reconnection with exponential backoff and jitter, giving up into a
//     terminal failed state after a configured number of attempts
//   - Heartbeat liveness probing, catching silent network partitions where
//     the OS-level socket never reports an error
//   - A circuit breaker that stops attempting operations known to be
//     currently failing
//
// The three state machines are independent but share one rule: whenever any
// of them is in a down state, application-level Send and Receive calls fail
// fast with a typed error (ErrNotConnected, ErrCircuitOpen,
// ErrPermanentFailure) instead of hanging through the outage. Only the
// supervisor retries silently, and only by reconnecting in the background.
//
// The supervisor owns the connection state reported through OnStateChange;
// the handle below it only reports raw I/O outcomes and never decides
// policy.
package supervisor
