package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/wireline-io/wireline/common"
)

func newTestCodec(max int) *Codec {
	return NewCodec(common.FrameConf{MaxFrameSize: max})
}

// TestRoundTrip verifies decode(encode(p)) == (p, empty remainder) for a
// range of payload sizes including empty and maximum.
func TestRoundTrip(t *testing.T) {
	codec := newTestCodec(1 << 16)

	sizes := []int{0, 1, 7, 8, 255, 4096, 1 << 16}
	for _, size := range sizes {
		payload := make([]byte, size)
		rand.Read(payload)

		encoded, err := codec.Encode(payload)
		if err != nil {
			t.Fatalf("Encode(%d bytes) failed: %v", size, err)
		}
		if len(encoded) != size+8 {
			t.Errorf("Encoded length = %d, want %d", len(encoded), size+8)
		}

		f, rest, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%d bytes) failed: %v", size, err)
		}
		if f == nil {
			t.Fatalf("Decode(%d bytes) returned no frame", size)
		}
		if len(rest) != 0 {
			t.Errorf("Remainder = %d bytes, want 0", len(rest))
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Errorf("Payload mismatch for size %d", size)
		}
		if f.Length != uint32(size) {
			t.Errorf("Length = %d, want %d", f.Length, size)
		}
	}
}

// TestDecodeIncomplete verifies that a partial frame leaves the buffer
// untouched and yields neither frame nor error.
func TestDecodeIncomplete(t *testing.T) {
	codec := newTestCodec(1024)

	encoded, err := codec.Encode([]byte("hello wireline"))
	if err != nil {
		t.Fatal(err)
	}

	for cut := 0; cut < len(encoded); cut++ {
		f, rest, err := codec.Decode(encoded[:cut])
		if err != nil {
			t.Fatalf("Decode with %d bytes failed: %v", cut, err)
		}
		if f != nil {
			t.Fatalf("Decode with %d bytes returned a frame early", cut)
		}
		if len(rest) != cut {
			t.Errorf("Decode with %d bytes consumed input", cut)
		}
	}
}

// TestDecodeMultipleFrames verifies that frames are extracted one at a time
// with the remainder carried over.
func TestDecodeMultipleFrames(t *testing.T) {
	codec := newTestCodec(1024)

	payloads := [][]byte{[]byte("one"), []byte("two"), {}, []byte("four")}
	var stream []byte
	for _, p := range payloads {
		encoded, err := codec.Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, encoded...)
	}

	for i, want := range payloads {
		f, rest, err := codec.Decode(stream)
		if err != nil {
			t.Fatalf("Decode frame %d failed: %v", i, err)
		}
		if f == nil {
			t.Fatalf("Decode frame %d returned no frame", i)
		}
		if !bytes.Equal(f.Payload, want) {
			t.Errorf("Frame %d payload = %q, want %q", i, f.Payload, want)
		}
		stream = rest
	}
	if len(stream) != 0 {
		t.Errorf("Leftover bytes after all frames: %d", len(stream))
	}
}

// TestEncodeTooLarge verifies the encoder rejects oversized payloads.
func TestEncodeTooLarge(t *testing.T) {
	codec := newTestCodec(16)

	if _, err := codec.Encode(make([]byte, 17)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Encode oversized payload: err = %v, want ErrTooLarge", err)
	}
	if _, err := codec.Encode(make([]byte, 16)); err != nil {
		t.Errorf("Encode payload at limit failed: %v", err)
	}
}

// TestDecodeTooLarge verifies that an oversized declared length fails as
// soon as the length prefix is readable, before any body bytes arrive.
func TestDecodeTooLarge(t *testing.T) {
	codec := newTestCodec(16)

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[:4], 17)

	if _, _, err := codec.Decode(header); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Decode oversized declared length: err = %v, want ErrTooLarge", err)
	}
}

// TestDecodeCorrupted verifies that any single-bit flip in a frame yields
// ErrCorrupted (or ErrTooLarge if the flip lands in the length prefix) and
// never a valid-looking frame with a wrong payload.
func TestDecodeCorrupted(t *testing.T) {
	codec := newTestCodec(1024)

	payload := []byte("checksum guarded payload")
	encoded, err := codec.Encode(payload)
	if err != nil {
		t.Fatal(err)
	}

	for bit := 0; bit < len(encoded)*8; bit++ {
		corrupted := make([]byte, len(encoded))
		copy(corrupted, encoded)
		corrupted[bit/8] ^= 1 << (bit % 8)

		f, _, err := codec.Decode(corrupted)
		if err == nil && f != nil {
			t.Fatalf("Bit flip at %d produced a valid frame", bit)
		}
		if err != nil && !errors.Is(err, ErrCorrupted) && !errors.Is(err, ErrTooLarge) {
			t.Fatalf("Bit flip at %d: unexpected error %v", bit, err)
		}
		// A flip in the length prefix may also make the frame look
		// incomplete (f == nil, err == nil), which is safe: no payload is
		// ever surfaced.
	}
}

// TestDecoderChunkingInvariance verifies that feeding a byte stream in
// arbitrary chunk sizes produces the same frame sequence as one chunk.
func TestDecoderChunkingInvariance(t *testing.T) {
	codec := newTestCodec(4096)
	rng := rand.New(rand.NewSource(42))

	var payloads [][]byte
	var stream []byte
	for i := 0; i < 50; i++ {
		p := make([]byte, rng.Intn(512))
		rng.Read(p)
		payloads = append(payloads, p)

		encoded, err := codec.Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, encoded...)
	}

	decodeAll := func(chunks [][]byte) [][]byte {
		decoder := NewDecoder(codec)
		var got [][]byte
		for _, chunk := range chunks {
			decoder.Feed(chunk)
			for {
				f, err := decoder.Next()
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if f == nil {
					break
				}
				got = append(got, f.Payload)
			}
		}
		return got
	}

	// Reference: the whole stream as a single chunk.
	want := decodeAll([][]byte{stream})
	if len(want) != len(payloads) {
		t.Fatalf("Single chunk decoded %d frames, want %d", len(want), len(payloads))
	}

	// Random split points, several rounds.
	for round := 0; round < 10; round++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		got := decodeAll(chunks)
		if len(got) != len(want) {
			t.Fatalf("Round %d: decoded %d frames, want %d", round, len(got), len(want))
		}
		for i := range got {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("Round %d: frame %d differs", round, i)
			}
		}
	}
}

// TestDecoderBufferReclaim verifies the decoder does not retain consumed
// bytes across frames.
func TestDecoderBufferReclaim(t *testing.T) {
	codec := newTestCodec(1024)
	decoder := NewDecoder(codec)

	for i := 0; i < 100; i++ {
		encoded, err := codec.Encode(make([]byte, 100))
		if err != nil {
			t.Fatal(err)
		}
		decoder.Feed(encoded)
		f, err := decoder.Next()
		if err != nil || f == nil {
			t.Fatalf("Iteration %d: frame=%v err=%v", i, f, err)
		}
	}

	if decoder.Buffered() != 0 {
		t.Errorf("Buffered = %d after full drain, want 0", decoder.Buffered())
	}
}
