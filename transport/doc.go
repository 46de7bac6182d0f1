// Package transport defines the raw-connection collaborator consumed by the
// wireline core: how a physical byte-stream connection is established and
// prepared, independent of the framing and resilience layers built on top.
//
// Concrete implementations live in the subpackages tcp and unix. They only
// dial, listen, and apply socket options; all reading, writing, framing and
// lifecycle policy belongs to the conn, pool and supervisor packages.
package transport
