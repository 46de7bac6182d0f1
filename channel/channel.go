package channel

import (
	"errors"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("wireline/channel")

var (
	// ErrClosed reports an operation on a closed channel. Gets observe it
	// only after the buffered backlog is fully drained.
	ErrClosed = errors.New("channel: closed")

	// ErrWouldBlock reports that a non-blocking operation could not proceed
	// without suspending the caller.
	ErrWouldBlock = errors.New("channel: would block")
)

// Channel is a bounded FIFO queue with pause/resume flow control.
type Channel[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf   []T
	head  int // index of the oldest item
	count int

	paused bool
	closed bool
}

// New creates a channel with the given fixed capacity. Capacity must be at
// least one.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Channel[T]{buf: make([]T, capacity)}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Cap returns the fixed capacity.
func (c *Channel[T]) Cap() int {
	return len(c.buf)
}

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Put enqueues one item, blocking while the channel is full or paused.
// It returns ErrClosed if the channel is (or becomes) closed.
func (c *Channel[T]) Put(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.closed && (c.count == len(c.buf) || c.paused) {
		c.notFull.Wait()
	}
	if c.closed {
		return ErrClosed
	}

	c.enqueue(v)
	return nil
}

// TryPut enqueues one item without blocking. It returns ErrWouldBlock if the
// channel is full or paused, ErrClosed if it is closed.
func (c *Channel[T]) TryPut(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.count == len(c.buf) || c.paused {
		return ErrWouldBlock
	}

	c.enqueue(v)
	return nil
}

// Get dequeues the oldest item, blocking until one is available. After Close
// it keeps returning buffered items until the backlog is drained, then
// returns ErrClosed.
func (c *Channel[T]) Get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == 0 && !c.closed {
		c.notEmpty.Wait()
	}

	var zero T
	if c.count == 0 {
		return zero, ErrClosed
	}

	return c.dequeue(), nil
}

// TryGet dequeues the oldest item without blocking. It returns ErrWouldBlock
// on an empty open channel and ErrClosed on an empty closed one.
func (c *Channel[T]) TryGet() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.count == 0 {
		if c.closed {
			return zero, ErrClosed
		}
		return zero, ErrWouldBlock
	}

	return c.dequeue(), nil
}

// Pause stops the channel from accepting new items from the producer side.
// Consumers keep draining the buffered backlog.
func (c *Channel[T]) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume re-enables the producer side and wakes blocked producers.
func (c *Channel[T]) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.notFull.Broadcast()
}

// Paused reports whether the producer side is currently paused.
func (c *Channel[T]) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Close closes the channel. Blocked producers are unblocked with ErrClosed;
// consumers drain the remaining backlog before observing ErrClosed.
// Close is idempotent.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// Closed reports whether the channel has been closed.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// enqueue and dequeue assume c.mu is held.

func (c *Channel[T]) enqueue(v T) {
	c.buf[(c.head+c.count)%len(c.buf)] = v
	c.count++
	c.notEmpty.Signal()
}

func (c *Channel[T]) dequeue() T {
	var zero T
	v := c.buf[c.head]
	c.buf[c.head] = zero // release the reference for GC
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	c.notFull.Signal()
	return v
}
