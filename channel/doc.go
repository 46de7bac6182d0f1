// Package channel provides a bounded, pausable FIFO buffer between a
// byte-producing source and a message consumer.
//
// Features and Guarantees:
//
//   - Bounded: the buffer never holds more than its fixed capacity
//   - Strict FIFO: no reordering and no duplication
//   - Backpressure: Put on a full channel blocks the producer (or returns
//     ErrWouldBlock in the non-blocking variant) instead of growing
//   - Pause/Resume: a paused channel stops accepting from the producer side
//     while the consumer keeps draining the buffered backlog
//   - Lossless close: pending Gets drain the remainder before observing
//     ErrClosed; no item is ever dropped silently
//
// The implementation is a ring buffer guarded by a mutex with two condition
// variables, one per direction. All methods are safe for concurrent use by
// any number of producers and consumers.
package channel
