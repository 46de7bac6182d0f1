// Package conn wraps one physical connection with the wireline frame codec
// and a backpressure channel, exposing send, receive and close.
//
// Above the raw frame payload, the handle speaks a small message envelope:
//
//	1 byte   kind (data, ping, pong)
//	8 bytes  sequence number (uint64, big endian)
//	N bytes  body (opaque application payload, empty for ping/pong)
//
// Data sequence numbers increase monotonically per handle and reset with
// every new handle, i.e. per connection generation. Pings carry their own
// counter and are answered with a pong echoing the same sequence, which the
// supervisor uses for liveness probing.
//
// The send path and the receive loop are independent directions: the write
// side is stateless per call behind a write mutex, the read side owns the
// codec's streaming decoder. Any I/O or decode failure closes the handle
// and records the error; the handle never retries. Retry and reconnection
// policy belong to the pool and supervisor packages.
package conn
