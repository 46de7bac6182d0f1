// Package pool manages a bounded set of connection handles to one endpoint,
// with health checking and replacement.
//
// The pool owns slots, not connections: a slot persists across the lifetime
// of the pool while the handle inside it may be closed and replaced many
// times. Acquire hands out exactly one borrower per slot at a time, favoring
// the entry that has been idle longest so no single connection is starved or
// overused. When the pool is below capacity Acquire grows it by dialing;
// repeated dial failures beyond the configured retry budget surface
// ErrExhausted instead of blocking forever.
//
// Health checks probe idle entries with a protocol-level ping. A failed
// probe closes the handle and asynchronously redials a replacement. Entries
// currently borrowed are left alone: their borrower sees the failure on the
// next send or receive, never a silent substitution mid-use.
package pool
