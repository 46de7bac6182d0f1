package channel

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFIFOOrder verifies strict FIFO delivery without loss or duplication.
func TestFIFOOrder(t *testing.T) {
	c := New[int](8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := c.Put(i); err != nil {
				t.Errorf("Put(%d) failed: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		v, err := c.Get()
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if v != i {
			t.Fatalf("Get %d = %d, want %d", i, v, i)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Producer did not finish")
	}
}

// TestCapacityBound verifies the channel never holds more than its capacity
// and TryPut reports WouldBlock deterministically when full.
func TestCapacityBound(t *testing.T) {
	c := New[int](3)

	for i := 0; i < 3; i++ {
		if err := c.TryPut(i); err != nil {
			t.Fatalf("TryPut(%d) failed: %v", i, err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if err := c.TryPut(3); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryPut on full channel: err = %v, want ErrWouldBlock", err)
	}
	if c.Len() != 3 {
		t.Errorf("Len grew beyond capacity: %d", c.Len())
	}
}

// TestPutBlocksWhenFull verifies a blocking Put suspends until a Get frees
// capacity.
func TestPutBlocksWhenFull(t *testing.T) {
	c := New[int](1)
	if err := c.Put(1); err != nil {
		t.Fatal(err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- c.Put(2)
	}()

	select {
	case <-unblocked:
		t.Fatal("Put on full channel returned early")
	case <-time.After(20 * time.Millisecond):
	}

	if v, err := c.Get(); err != nil || v != 1 {
		t.Fatalf("Get = (%d, %v), want (1, nil)", v, err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Blocked Put failed after Get: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Get")
	}
}

// TestPauseResume verifies a paused channel rejects producers while the
// consumer drains the backlog, and Resume restores live delivery.
func TestPauseResume(t *testing.T) {
	c := New[int](4)

	for i := 0; i < 2; i++ {
		if err := c.Put(i); err != nil {
			t.Fatal(err)
		}
	}

	c.Pause()

	if err := c.TryPut(99); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryPut while paused: err = %v, want ErrWouldBlock", err)
	}

	// Draining the backlog still works while paused.
	for i := 0; i < 2; i++ {
		v, err := c.Get()
		if err != nil || v != i {
			t.Fatalf("Get while paused = (%d, %v), want (%d, nil)", v, err, i)
		}
	}

	// A blocked producer is released by Resume.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- c.Put(7)
	}()

	select {
	case <-unblocked:
		t.Fatal("Put proceeded while paused")
	case <-time.After(20 * time.Millisecond):
	}

	c.Resume()

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Put failed after Resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Resume")
	}

	if v, err := c.Get(); err != nil || v != 7 {
		t.Fatalf("Get after Resume = (%d, %v), want (7, nil)", v, err)
	}
}

// TestCloseDrainsBacklog verifies that Close lets consumers drain buffered
// items before observing ErrClosed, and that nothing is lost.
func TestCloseDrainsBacklog(t *testing.T) {
	c := New[int](4)
	for i := 0; i < 3; i++ {
		if err := c.Put(i); err != nil {
			t.Fatal(err)
		}
	}

	c.Close()

	for i := 0; i < 3; i++ {
		v, err := c.Get()
		if err != nil {
			t.Fatalf("Get %d after Close failed: %v", i, err)
		}
		if v != i {
			t.Fatalf("Get %d = %d after Close, want %d", i, v, i)
		}
	}

	if _, err := c.Get(); !errors.Is(err, ErrClosed) {
		t.Errorf("Get on drained closed channel: err = %v, want ErrClosed", err)
	}
	if err := c.Put(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Put on closed channel: err = %v, want ErrClosed", err)
	}
}

// TestCloseUnblocksWaiters verifies every goroutine suspended on a channel
// is released by Close with ErrClosed rather than hanging.
func TestCloseUnblocksWaiters(t *testing.T) {
	full := New[int](1)
	if err := full.Put(0); err != nil {
		t.Fatal(err)
	}
	empty := New[int](1)

	var wg sync.WaitGroup
	results := make(chan error, 8)

	// Producers blocked on a full channel.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- full.Put(1)
		}()
	}
	// Consumers blocked on an empty channel.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := empty.Get()
			results <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	full.Close()
	empty.Close()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock all waiters")
	}

	for i := 0; i < 8; i++ {
		if err := <-results; !errors.Is(err, ErrClosed) {
			t.Errorf("Waiter %d: err = %v, want ErrClosed", i, err)
		}
	}
}

// TestConcurrentProducersConsumers verifies no loss and no duplication under
// contention.
func TestConcurrentProducersConsumers(t *testing.T) {
	c := New[int](16)

	const producers = 8
	const perProducer = 500
	total := producers * perProducer

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := c.Put(p*perProducer + i); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}(p)
	}

	seen := make(map[int]bool, total)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			v, err := c.Get()
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			if seen[v] {
				t.Errorf("Duplicate item %d", v)
				return
			}
			seen[v] = true
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Consumer did not receive all items")
	}

	if len(seen) != total {
		t.Errorf("Received %d distinct items, want %d", len(seen), total)
	}
}
