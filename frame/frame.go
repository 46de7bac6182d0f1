package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/wireline-io/wireline/common"
)

var Logger = logger.GetLogger("wireline/frame")

const (
	// lengthSize + checksumSize is the fixed per-frame overhead.
	lengthSize   = 4
	checksumSize = 4

	// minFrameSize is the smallest complete frame (empty payload).
	minFrameSize = lengthSize + checksumSize
)

var (
	// ErrTooLarge reports a declared payload length above the configured
	// maximum. The connection must be closed.
	ErrTooLarge = errors.New("frame: payload exceeds maximum frame size")

	// ErrCorrupted reports a checksum mismatch between header+payload and
	// the trailing checksum field.
	ErrCorrupted = errors.New("frame: checksum mismatch")
)

// Frame is one complete wire envelope. A Frame is transient: it is
// constructed per message and never mutated after creation.
type Frame struct {
	Length   uint32
	Checksum uint32
	Payload  []byte
}

// Codec encodes and decodes frames up to a fixed payload size.
type Codec struct {
	maxFrameSize int
}

// NewCodec creates a codec enforcing the given frame configuration.
func NewCodec(conf common.FrameConf) *Codec {
	return &Codec{maxFrameSize: conf.MaxSize()}
}

// MaxFrameSize returns the enforced payload limit in bytes.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Encode serializes one payload into wire format.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if len(payload) > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(payload), c.maxFrameSize)
	}

	buf := make([]byte, lengthSize+len(payload)+checksumSize)
	binary.BigEndian.PutUint32(buf[:lengthSize], uint32(len(payload)))
	copy(buf[lengthSize:], payload)

	sum := crc32.ChecksumIEEE(buf[:lengthSize+len(payload)])
	binary.BigEndian.PutUint32(buf[lengthSize+len(payload):], sum)

	return buf, nil
}

// Decode extracts at most one frame from buf.
//
// If buf does not yet hold a complete frame, Decode returns (nil, buf, nil)
// and the caller should read more bytes and call again. On success it
// returns the frame and the unconsumed remainder. The returned payload
// aliases buf; callers that keep the payload beyond the next read must copy.
func (c *Codec) Decode(buf []byte) (*Frame, []byte, error) {
	if len(buf) < minFrameSize {
		return nil, buf, nil
	}

	length := binary.BigEndian.Uint32(buf[:lengthSize])
	if int(length) > c.maxFrameSize {
		return nil, buf, fmt.Errorf("%w: declared %d > %d", ErrTooLarge, length, c.maxFrameSize)
	}

	total := minFrameSize + int(length)
	if len(buf) < total {
		return nil, buf, nil
	}

	payload := buf[lengthSize : lengthSize+int(length)]
	declared := binary.BigEndian.Uint32(buf[lengthSize+int(length) : total])

	if sum := crc32.ChecksumIEEE(buf[:lengthSize+int(length)]); sum != declared {
		return nil, buf, fmt.Errorf("%w: declared %#x computed %#x", ErrCorrupted, declared, sum)
	}

	return &Frame{
		Length:   length,
		Checksum: declared,
		Payload:  payload,
	}, buf[total:], nil
}

// --------------------------------------------------------------------------
// Streaming decoder
// --------------------------------------------------------------------------

// Decoder accumulates raw chunks from a byte stream and yields complete
// frames. The internal buffer is bounded by the frame size limit plus the
// fixed envelope overhead, so a misbehaving peer cannot grow it without
// first tripping ErrTooLarge.
//
// Decoder is not safe for concurrent use; it is owned by a single read loop.
type Decoder struct {
	codec *Codec
	buf   []byte
}

// NewDecoder creates a streaming decoder around the given codec.
func NewDecoder(codec *Codec) *Decoder {
	return &Decoder{codec: codec}
}

// Feed appends one raw chunk to the decode buffer. Callers drain Next after
// every Feed; an oversized declared length is rejected by Next as soon as
// the length prefix is readable, before any body bytes accumulate, which
// keeps the buffer bounded by the frame size limit per pending frame.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next extracts the next complete frame, or nil if more bytes are needed.
// The returned payload is copied and safe to retain.
func (d *Decoder) Next() (*Frame, error) {
	f, rest, err := d.codec.Decode(d.buf)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}

	payload := make([]byte, len(f.Payload))
	copy(payload, f.Payload)
	f.Payload = payload

	// Shift the remainder to the front so the buffer does not grow
	// unboundedly across frames.
	n := copy(d.buf, rest)
	d.buf = d.buf[:n]

	return f, nil
}

// Buffered returns the number of unconsumed bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
