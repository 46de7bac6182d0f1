package conn

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/frame"
)

// newPipePair returns two connected handles speaking to each other.
func newPipePair(t *testing.T, conf common.ConnConf) (*Handle, *Handle) {
	t.Helper()
	rawA, rawB := net.Pipe()
	a := New(rawA, conf)
	b := New(rawB, conf)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// TestSendReceive verifies a payload round-trip between two handles with
// sequence numbers starting at one.
func TestSendReceive(t *testing.T) {
	a, b := newPipePair(t, common.ConnConf{})

	payload := []byte("hello wireline")
	if err := a.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Errorf("Payload = %q, want %q", msg.Payload, payload)
	}
	if msg.Seq != 1 {
		t.Errorf("Seq = %d, want 1", msg.Seq)
	}
}

// TestSendOrdering verifies FIFO delivery with monotonically increasing
// sequence numbers.
func TestSendOrdering(t *testing.T) {
	a, b := newPipePair(t, common.ConnConf{})

	const count = 200
	go func() {
		for i := 0; i < count; i++ {
			if err := a.Send([]byte{byte(i)}); err != nil {
				t.Errorf("Send %d failed: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < count; i++ {
		msg, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if msg.Seq != uint64(i+1) {
			t.Fatalf("Message %d: Seq = %d, want %d", i, msg.Seq, i+1)
		}
		if msg.Payload[0] != byte(i) {
			t.Fatalf("Message %d: payload = %d", i, msg.Payload[0])
		}
	}
}

// TestPingPong verifies liveness probing against a responsive peer.
func TestPingPong(t *testing.T) {
	a, _ := newPipePair(t, common.ConnConf{})

	for i := 0; i < 3; i++ {
		if err := a.Ping(time.Second); err != nil {
			t.Fatalf("Ping %d failed: %v", i, err)
		}
	}
}

// TestPingTimeout verifies a ping against a silent-but-open peer fails with
// ErrPingTimeout instead of hanging.
func TestPingTimeout(t *testing.T) {
	rawA, rawB := net.Pipe()
	a := New(rawA, common.ConnConf{})
	defer a.Close()
	defer rawB.Close()

	// Drain the peer side without ever answering, so the write succeeds
	// but no pong comes back.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := rawB.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := a.Ping(50 * time.Millisecond); !errors.Is(err, ErrPingTimeout) {
		t.Errorf("Ping against silent peer: err = %v, want ErrPingTimeout", err)
	}
}

// TestCloseUnblocksReceive verifies Close releases a blocked Receive.
func TestCloseUnblocksReceive(t *testing.T) {
	a, _ := newPipePair(t, common.ConnConf{})

	result := make(chan error, 1)
	go func() {
		_, err := a.Receive()
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrHandleClosed) {
			t.Errorf("Receive after Close: err = %v, want ErrHandleClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Close")
	}

	if a.State() != StateClosed {
		t.Errorf("State = %v, want closed", a.State())
	}

	// Close is idempotent.
	if err := a.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

// TestPeerDisconnect verifies an I/O error surfaces on the next operation
// and closes the handle.
func TestPeerDisconnect(t *testing.T) {
	rawA, rawB := net.Pipe()
	a := New(rawA, common.ConnConf{})
	defer a.Close()

	rawB.Close()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Handle did not close after peer disconnect")
	}

	if err := a.Err(); err == nil {
		t.Error("Err = nil after peer disconnect, want I/O error")
	}
	if err := a.Send([]byte("x")); err == nil {
		t.Error("Send succeeded on a dead handle")
	}
	if _, err := a.Receive(); err == nil {
		t.Error("Receive succeeded on a dead handle")
	}
}

// TestCorruptedStreamClosesHandle verifies a frame that fails checksum
// validation is fatal for the connection.
func TestCorruptedStreamClosesHandle(t *testing.T) {
	rawA, rawB := net.Pipe()
	a := New(rawA, common.ConnConf{})
	defer a.Close()
	defer rawB.Close()

	codec := frame.NewCodec(common.FrameConf{})
	encoded, err := codec.Encode(encodeEnvelope(kindData, 1, []byte("payload")))
	if err != nil {
		t.Fatal(err)
	}
	encoded[len(encoded)-1] ^= 0xff // break the checksum

	if _, err := rawB.Write(encoded); err != nil {
		t.Fatal(err)
	}

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Handle did not close on corrupted frame")
	}

	if err := a.Err(); !errors.Is(err, frame.ErrCorrupted) {
		t.Errorf("Err = %v, want ErrCorrupted", err)
	}
}

// TestBacklogBoundsInflight verifies the receive loop stops pulling bytes
// once the inbound backlog is full, and nothing is lost once the consumer
// drains.
func TestBacklogBoundsInflight(t *testing.T) {
	conf := common.ConnConf{BacklogCapacity: 2}
	a, b := newPipePair(t, conf)

	const count = 10
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for i := 0; i < count; i++ {
			if err := a.Send([]byte{byte(i)}); err != nil {
				t.Errorf("Send %d failed: %v", i, err)
				return
			}
		}
	}()

	// Give the pipeline time to fill up; the backlog must never exceed its
	// capacity.
	time.Sleep(50 * time.Millisecond)
	if n := b.Backlog().Len(); n > 2 {
		t.Errorf("Backlog holds %d messages, capacity 2", n)
	}

	for i := 0; i < count; i++ {
		msg, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if msg.Payload[0] != byte(i) {
			t.Fatalf("Message %d out of order: %d", i, msg.Payload[0])
		}
	}

	select {
	case <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("Sender did not finish after drain")
	}
}

// TestPauseResumeDelivery verifies the owner can pause inbound delivery and
// later drain the buffered backlog in order.
func TestPauseResumeDelivery(t *testing.T) {
	a, b := newPipePair(t, common.ConnConf{BacklogCapacity: 8})

	if err := a.Send([]byte("before")); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Receive()
	if err != nil || string(msg.Payload) != "before" {
		t.Fatalf("Receive = (%q, %v)", msg.Payload, err)
	}

	b.Backlog().Pause()

	// The sender keeps going; messages pile up in the decoder path, not in
	// the paused backlog.
	go func() {
		for i := 0; i < 3; i++ {
			if err := a.Send([]byte{byte(i)}); err != nil {
				t.Errorf("Send failed: %v", err)
				return
			}
		}
	}()

	time.Sleep(30 * time.Millisecond)
	b.Backlog().Resume()

	for i := 0; i < 3; i++ {
		msg, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive %d after Resume failed: %v", i, err)
		}
		if msg.Payload[0] != byte(i) {
			t.Fatalf("Message %d out of order after Resume", i)
		}
	}
}
