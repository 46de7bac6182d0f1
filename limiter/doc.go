// Package limiter provides a sliding-window admission gate.
//
// The limiter keeps the timestamps of recently permitted operations and
// admits a new one only while fewer than the configured maximum fall inside
// the window. TryAcquire rejects immediately when the window is full;
// Acquire sleeps exactly until the oldest admission expires.
//
// It is used symmetrically: the client side can shape outbound request
// rates, the server uses it to bound the connection accept rate.
package limiter
