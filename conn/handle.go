package conn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wireline-io/wireline/channel"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/frame"
)

var Logger = logger.GetLogger("wireline/conn")

var (
	framesOut = metrics.GetOrCreateCounter(`wireline_frames_total{dir="out"}`)
	framesIn  = metrics.GetOrCreateCounter(`wireline_frames_total{dir="in"}`)
	bytesOut  = metrics.GetOrCreateCounter(`wireline_bytes_total{dir="out"}`)
	bytesIn   = metrics.GetOrCreateCounter(`wireline_bytes_total{dir="in"}`)
)

// readChunkSize is the buffer handed to every raw read.
const readChunkSize = 32 * 1024

var (
	// ErrHandleClosed reports an operation on a closed handle.
	ErrHandleClosed = errors.New("conn: handle closed")

	// ErrPingTimeout reports that no pong arrived within the probe timeout.
	ErrPingTimeout = errors.New("conn: ping timed out")

	errShortEnvelope = errors.New("conn: frame payload shorter than envelope header")
	errUnknownKind   = errors.New("conn: unknown message kind")
)

// --------------------------------------------------------------------------
// Message envelope
// --------------------------------------------------------------------------

type kind byte

const (
	kindData kind = 1
	kindPing kind = 2
	kindPong kind = 3
)

const envelopeHeaderSize = 9 // 1 byte kind + 8 bytes sequence

// Message is one decoded application payload with its per-handle sequence
// number.
type Message struct {
	Seq     uint64
	Payload []byte
}

func encodeEnvelope(k kind, seq uint64, body []byte) []byte {
	buf := make([]byte, envelopeHeaderSize+len(body))
	buf[0] = byte(k)
	binary.BigEndian.PutUint64(buf[1:envelopeHeaderSize], seq)
	copy(buf[envelopeHeaderSize:], body)
	return buf
}

func decodeEnvelope(payload []byte) (kind, uint64, []byte, error) {
	if len(payload) < envelopeHeaderSize {
		return 0, 0, nil, errShortEnvelope
	}
	k := kind(payload[0])
	if k != kindData && k != kindPing && k != kindPong {
		return 0, 0, nil, fmt.Errorf("%w: %d", errUnknownKind, payload[0])
	}
	seq := binary.BigEndian.Uint64(payload[1:envelopeHeaderSize])
	return k, seq, payload[envelopeHeaderSize:], nil
}

// --------------------------------------------------------------------------
// Connection state (reported, never policy)
// --------------------------------------------------------------------------

// State describes the low-level lifecycle of a handle.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Handle
// --------------------------------------------------------------------------

// Handle wraps one established raw connection. Create it with New, which
// also starts the receive loop.
type Handle struct {
	conn    net.Conn
	codec   *frame.Codec
	inbound *channel.Channel[Message]

	writeMu      sync.Mutex
	writeTimeout time.Duration

	nextSeq    atomic.Uint64
	nextPingID atomic.Uint64
	pongs      *xsync.MapOf[uint64, chan struct{}]

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos of the last successful I/O
	lastRead     atomic.Int64 // unix nanos of the last successful read

	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// New wraps an established connection and starts its receive loop.
func New(raw net.Conn, conf common.ConnConf) *Handle {
	h := &Handle{
		conn:         raw,
		codec:        frame.NewCodec(conf.Frame),
		inbound:      channel.New[Message](conf.Backlog()),
		writeTimeout: conf.Socket.WriteTimeout,
		pongs:        xsync.NewMapOf[uint64, chan struct{}](),
		done:         make(chan struct{}),
	}
	h.state.Store(int32(StateConnecting))
	now := time.Now().UnixNano()
	h.lastActivity.Store(now)
	h.lastRead.Store(now)

	go h.receiveLoop()

	return h
}

// State returns the current low-level lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Backlog exposes the inbound backpressure channel, letting owners pause and
// resume delivery to a slow consumer.
func (h *Handle) Backlog() *channel.Channel[Message] {
	return h.inbound
}

// LastActivity returns the time of the last successful read or write.
func (h *Handle) LastActivity() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

// LastRead returns the time of the last successful read. Outbound writes do
// not move it: liveness probes key on traffic actually arriving, so a peer
// that acknowledges bytes but never answers still counts as silent.
func (h *Handle) LastRead() time.Time {
	return time.Unix(0, h.lastRead.Load())
}

// Done is closed when the handle reaches StateClosed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the fatal error that closed the handle, or nil after a clean
// Close.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Send encodes one payload and writes it synchronously. It may block on the
// OS send buffer. Sends on one handle reach the peer in call order.
func (h *Handle) Send(payload []byte) error {
	seq := h.nextSeq.Add(1)
	return h.write(kindData, seq, payload)
}

// Receive blocks until a message is available or the handle is closed. After
// close it drains buffered messages before reporting the close reason.
func (h *Handle) Receive() (Message, error) {
	msg, err := h.inbound.Get()
	if err != nil {
		if fatal := h.Err(); fatal != nil {
			return Message{}, fatal
		}
		return Message{}, ErrHandleClosed
	}
	return msg, nil
}

// Ping writes a ping frame and waits up to timeout for the matching pong.
func (h *Handle) Ping(timeout time.Duration) error {
	id := h.nextPingID.Add(1)
	pongCh := make(chan struct{}, 1)
	h.pongs.Store(id, pongCh)
	defer h.pongs.Delete(id)

	if err := h.write(kindPing, id, nil); err != nil {
		return err
	}

	select {
	case <-pongCh:
		return nil
	case <-h.done:
		return ErrHandleClosed
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrPingTimeout, timeout)
	}
}

// Close shuts the handle down. It is idempotent and unblocks every caller
// suspended on Receive or Ping.
func (h *Handle) Close() error {
	h.closeWith(nil)
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// write encodes and writes one envelope under the write mutex. The write
// side shares no state with the receive loop besides the connection itself.
func (h *Handle) write(k kind, seq uint64, body []byte) error {
	if h.State() >= StateClosing {
		if fatal := h.Err(); fatal != nil {
			return fatal
		}
		return ErrHandleClosed
	}

	encoded, err := h.codec.Encode(encodeEnvelope(k, seq, body))
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
	}

	if _, err := h.conn.Write(encoded); err != nil {
		writeErr := fmt.Errorf("conn: write failed: %w", err)
		h.closeWith(writeErr)
		return writeErr
	}

	framesOut.Inc()
	bytesOut.Add(len(encoded))
	h.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// receiveLoop runs until the handle closes: it reads raw chunks, feeds the
// streaming decoder and dispatches decoded envelopes. A blocking put into a
// full inbound channel stops the loop from pulling more bytes, which is the
// backpressure path down to the peer's TCP window.
func (h *Handle) receiveLoop() {
	h.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))

	decoder := frame.NewDecoder(h.codec)
	buf := make([]byte, readChunkSize)

	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			bytesIn.Add(n)
			now := time.Now().UnixNano()
			h.lastActivity.Store(now)
			h.lastRead.Store(now)
			decoder.Feed(buf[:n])

			if err := h.drain(decoder); err != nil {
				h.closeWith(err)
				return
			}
		}
		if err != nil {
			select {
			case <-h.done:
				// Expected read failure after Close.
			default:
				h.closeWith(fmt.Errorf("conn: read failed: %w", err))
			}
			return
		}
	}
}

// drain dispatches every complete frame buffered in the decoder.
func (h *Handle) drain(decoder *frame.Decoder) error {
	for {
		f, err := decoder.Next()
		if err != nil {
			// FrameTooLarge and FrameCorrupted are fatal for the
			// connection per the protocol contract.
			return err
		}
		if f == nil {
			return nil
		}
		framesIn.Inc()

		k, seq, body, err := decodeEnvelope(f.Payload)
		if err != nil {
			return err
		}

		switch k {
		case kindData:
			if err := h.inbound.Put(Message{Seq: seq, Payload: body}); err != nil {
				return err
			}
		case kindPing:
			if err := h.write(kindPong, seq, nil); err != nil {
				return err
			}
		case kindPong:
			if ch, ok := h.pongs.Load(seq); ok {
				select {
				case ch <- struct{}{}:
				default:
				}
			} else {
				Logger.Debugf("unmatched pong %d", seq)
			}
		}
	}
}

// closeWith transitions to Closed exactly once, recording the fatal error
// (nil for a clean close).
func (h *Handle) closeWith(fatal error) {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosing))

		h.errMu.Lock()
		h.err = fatal
		h.errMu.Unlock()

		if fatal != nil {
			Logger.Warningf("closing connection: %v", fatal)
		}

		close(h.done)
		_ = h.conn.Close()
		h.inbound.Close()
		h.state.Store(int32(StateClosed))
	})
}
