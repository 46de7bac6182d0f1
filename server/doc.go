// Package server accepts framed connections and dispatches each inbound
// message to a registered handler function.
//
// It is the accept-side counterpart of the supervised client: every
// accepted connection gets its own handle with a receive loop and
// backpressure channel, and a per-connection worker semaphore bounds
// concurrent handler invocations. An optional sliding-window admission
// gate refuses connections beyond a configured accept rate.
package server
