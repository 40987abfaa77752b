// Package nic declares the interface to the kernel-bypass NIC driver
// that the capture core consumes. Per spec.md §1 the driver itself —
// the reader/manager wrapper around the real kernel-bypass library — is
// an external collaborator out of scope for this repository; only its
// interface, as enumerated in spec.md §6, lives here.
//
// internal/nic/simnic provides a reference, in-process implementation
// used by tests and by operators running tesfcd without specialized
// capture hardware.
package nic

import "context"

// ID indexes a slot within one ring. It wraps modulo the ring's buffer
// count.
type ID uint32

// Ring is one fixed-size receive ring as exposed by the driver: a flat
// array of buffers indexed 0..N-1, with head/cur/tail slot indices
// maintained jointly by the NIC and the reader (spec.md §3).
type Ring interface {
	// BufCount returns the number of buffer slots, N.
	BufCount() uint32
	// BufSize returns the physical size of each slot's backing buffer.
	BufSize() uint32

	// Head, Cur and Tail return the ring's current head/cursor/tail
	// slot indices.
	Head() ID
	Cur() ID
	Tail() ID

	// Following returns the slot index that follows idx, wrapping at
	// BufCount.
	Following(idx ID) ID

	// Buf returns the byte slice backing slot idx. Reading a slot
	// outside [head, tail) is undefined; implementations return an
	// empty slice.
	Buf(idx ID) []byte
	// Len returns the received length of slot idx.
	Len(idx ID) uint16

	// SetHead and SetCur are manager-only mutations: exactly one
	// manager may call them; any number of readers may concurrently
	// call the read-only methods above. Implementations are not
	// required to check idx (simnic stores it as given); ringif's
	// SetHeadTo, SetHeadNext and AdvanceHead refuse to move head past
	// cur before calling SetHead.
	SetHead(idx ID)
	SetCur(idx ID)
}

// Handle is the kernel-bypass NIC handle: one owner (the coordinator)
// opens it, learns its receive rings, and polls it for readiness.
type Handle interface {
	// Close releases the handle.
	Close() error

	// Readable returns a channel that receives a value whenever the
	// NIC may have new frames across any ring. This is the idiomatic
	// Go substitute for polling a raw file descriptor (spec.md §6's
	// fd(handle) -> int); a production driver would bridge a real
	// epoll/kqueue readiness fd onto this channel.
	Readable() <-chan struct{}

	// RxRingCount returns the number of receive rings.
	RxRingCount() int
	// RxRing returns the ring at idx, in [0, RxRingCount).
	RxRing(idx int) Ring
}

// OpenFunc is the signature of the call that attaches to the
// kernel-bypass driver for the named interface. The real attach
// sequence lives in the out-of-scope driver wrapper; this repository
// never calls one. OpenFunc exists so callers have a single seam to
// wire a production driver behind, matching
// spec.md §6's `open(name, options) -> handle`.
type OpenFunc func(ctx context.Context, name string, options map[string]string) (Handle, error)
