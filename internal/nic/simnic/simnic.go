// Package simnic is an in-process reference implementation of
// internal/nic.Handle, standing in for the out-of-scope kernel-bypass
// driver. It lets the coordinator, dispatch and task packages be
// exercised without specialized capture hardware, the same role
// modules/pdump/controlplane/ring_test.go's createTestWorker/
// createTestRingBuffer fixtures play in the teacher pack.
package simnic

import (
	"sync/atomic"

	"github.com/tes-daq/tesfcd/internal/nic"
)

// Ring is a software-only receive ring: a fixed slice of buffers with
// atomically updated head/cur/tail indices.
type Ring struct {
	bufs []([]byte)
	lens []uint16

	head atomic.Uint32
	cur  atomic.Uint32
	tail atomic.Uint32
}

// NewRing allocates a ring with n buffer slots, each bufSize bytes.
func NewRing(n int, bufSize int) *Ring {
	r := &Ring{
		bufs: make([][]byte, n),
		lens: make([]uint16, n),
	}
	for i := range r.bufs {
		r.bufs[i] = make([]byte, bufSize)
	}
	return r
}

func (r *Ring) BufCount() uint32 { return uint32(len(r.bufs)) }
func (r *Ring) BufSize() uint32 {
	if len(r.bufs) == 0 {
		return 0
	}
	return uint32(len(r.bufs[0]))
}

func (r *Ring) Head() nic.ID { return nic.ID(r.head.Load()) }
func (r *Ring) Cur() nic.ID  { return nic.ID(r.cur.Load()) }
func (r *Ring) Tail() nic.ID { return nic.ID(r.tail.Load()) }

func (r *Ring) Following(idx nic.ID) nic.ID {
	return nic.ID((uint32(idx) + 1) % r.BufCount())
}

func (r *Ring) Buf(idx nic.ID) []byte {
	if !r.inWindow(idx) {
		return nil
	}
	return r.bufs[idx]
}

func (r *Ring) Len(idx nic.ID) uint16 {
	if !r.inWindow(idx) {
		return 0
	}
	return r.lens[idx]
}

func (r *Ring) SetHead(idx nic.ID) { r.head.Store(uint32(idx)) }
func (r *Ring) SetCur(idx nic.ID)  { r.cur.Store(uint32(idx)) }

// inWindow reports whether idx lies in [head, tail) modulo BufCount,
// the only range spec.md §4.B guarantees readable slot bytes.
func (r *Ring) inWindow(idx nic.ID) bool {
	n := r.BufCount()
	if n == 0 {
		return false
	}
	head := r.head.Load()
	tail := r.tail.Load()
	dist := (tail + n - head) % n
	off := (uint32(idx) + n - head) % n
	return off < dist
}

// Produce appends a received frame to the ring's tail, for test setup
// and for local operation without real capture hardware. It does not
// advance head/cur; that remains the coordinator's job.
func (r *Ring) Produce(data []byte) nic.ID {
	n := r.BufCount()
	slot := r.tail.Load() % n
	copy(r.bufs[slot], data)
	r.lens[slot] = uint16(len(data))
	next := (slot + 1) % n
	r.tail.Store(next)
	return nic.ID(slot)
}

// Handle is a software-only nic.Handle backed by Ring instances.
type Handle struct {
	rings    []*Ring
	readable chan struct{}
}

// NewHandle builds a handle with the given rings.
func NewHandle(rings ...*Ring) *Handle {
	return &Handle{
		rings:    rings,
		readable: make(chan struct{}, 1),
	}
}

func (h *Handle) Close() error { return nil }

func (h *Handle) Readable() <-chan struct{} { return h.readable }

// Kick signals a readiness event, as a production driver would after
// new frames land in a ring. Non-blocking: a pending, unconsumed signal
// is coalesced, matching epoll level-triggered semantics closely enough
// for the coordinator's poll loop (it always re-scans every ring).
func (h *Handle) Kick() {
	select {
	case h.readable <- struct{}{}:
	default:
	}
}

func (h *Handle) RxRingCount() int { return len(h.rings) }

func (h *Handle) RxRing(idx int) nic.Ring { return h.rings[idx] }
