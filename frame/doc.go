// Package frame implements the wire-level codec of wireline: a
// length-prefixed, checksummed envelope around one opaque payload.
//
// Wire format (all integers big endian):
//
//	4 bytes  payload length (uint32)
//	N bytes  payload
//	4 bytes  CRC32 (IEEE) over length prefix + payload
//
// The codec is a pure transformation: it performs no I/O and never blocks.
// Decode operates on a caller-held buffer and extracts at most one frame per
// call, returning the unconsumed remainder for the next call. This makes the
// codec independent of how the byte stream is chunked by the network.
//
// A declared length above the configured maximum fails with ErrTooLarge and
// must be treated as fatal for the connection; a checksum mismatch fails
// with ErrCorrupted, and the close-versus-skip policy belongs to the caller.
package frame
