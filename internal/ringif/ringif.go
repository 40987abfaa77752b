// Package ringif implements the Ring Interface (RI) of spec.md §4.B: a
// read-only/manager split view over a set of nic.Ring instances. It is
// pure index arithmetic — "earlier"/"later" defined relative to the
// ring's current head, not a fixed zero — layered generically over any
// nic.Ring, independent of the concrete driver backing it.
package ringif

import (
	"fmt"

	"github.com/tes-daq/tesfcd/internal/nic"
)

// Reader exposes read-only ring access: counts, indices, comparisons
// relative to head, and byte/length accessors for any slot.
type Reader interface {
	RingCount() int
	BufCount(ring int) uint32
	BufSize(ring int) uint32

	Head(ring int) nic.ID
	Cur(ring int) nic.ID
	Tail(ring int) nic.ID

	// CompareIDs returns -1/0/+1: -1 means a is closer to head in the
	// forward direction than b. Ties on the same side of head (both
	// numerically >= head, or both < head) favor the smaller index;
	// otherwise the larger index is closer.
	CompareIDs(ring int, a, b nic.ID) int
	EarlierID(ring int, a, b nic.ID) nic.ID
	LaterID(ring int, a, b nic.ID) nic.ID

	// BufAt and LenAt return the slot's bytes/length for idx in
	// [head, tail); outside that window they return a nil slice / 0,
	// matching spec.md §4.B's sentinel contract.
	BufAt(ring int, idx nic.ID) []byte
	LenAt(ring int, idx nic.ID) uint16
}

// Manager additionally permits mutating cur/head, the only mutations
// spec.md §3 allows — and only from a single owner (the coordinator).
type Manager interface {
	Reader

	SetCur(ring int, idx nic.ID)

	// SetHeadNext advances head by exactly one slot, refusing to
	// advance past cur.
	SetHeadNext(ring int) error
	// SetHeadTo moves head to idx, refusing to advance it past cur.
	SetHeadTo(ring int, idx nic.ID) error
	// SetHeadToTail releases every slot up to tail. Unlike SetHeadTo
	// it does not check cur.
	SetHeadToTail(ring int)
	// AdvanceHead moves head forward by n slots, refusing to advance
	// past cur.
	AdvanceHead(ring int, n uint32) error
}

type view struct {
	h nic.Handle
}

// New wraps a nic.Handle with the Ring Interface's Reader/Manager
// views. The coordinator holds the Manager; tasks are only ever handed
// the Reader.
func New(h nic.Handle) Manager {
	return &view{h: h}
}

func (v *view) RingCount() int { return v.h.RxRingCount() }

func (v *view) ring(idx int) nic.Ring { return v.h.RxRing(idx) }

func (v *view) BufCount(ring int) uint32 { return v.ring(ring).BufCount() }
func (v *view) BufSize(ring int) uint32  { return v.ring(ring).BufSize() }

func (v *view) Head(ring int) nic.ID { return v.ring(ring).Head() }
func (v *view) Cur(ring int) nic.ID  { return v.ring(ring).Cur() }
func (v *view) Tail(ring int) nic.ID { return v.ring(ring).Tail() }

// CompareIDs implements the exact tie-break rule from spec.md §4.B,
// ported from the legacy ifring_compare_ids: slots on the same
// numerical side of head are ordered by magnitude; slots straddling
// head (one wrapped, one not) invert that ordering so the wrapped
// slot still counts as "later".
func (v *view) CompareIDs(ring int, a, b nic.ID) int {
	if a == b {
		return 0
	}
	head := v.Head(ring)
	sameSide := (head <= a && head <= b) || (head > a && head > b)
	if sameSide {
		if a < b {
			return -1
		}
		return 1
	}
	if a < b {
		return 1
	}
	return -1
}

func (v *view) EarlierID(ring int, a, b nic.ID) nic.ID {
	if v.CompareIDs(ring, a, b) <= 0 {
		return a
	}
	return b
}

func (v *view) LaterID(ring int, a, b nic.ID) nic.ID {
	if v.CompareIDs(ring, a, b) <= 0 {
		return b
	}
	return a
}

// readable reports whether idx lies in [head, tail), the only window
// spec.md §4.B guarantees slot bytes are valid over.
func (v *view) readable(ring int, idx nic.ID) bool {
	return v.CompareIDs(ring, idx, v.Tail(ring)) == -1
}

func (v *view) BufAt(ring int, idx nic.ID) []byte {
	if !v.readable(ring, idx) {
		return nil
	}
	return v.ring(ring).Buf(idx)
}

func (v *view) LenAt(ring int, idx nic.ID) uint16 {
	if !v.readable(ring, idx) {
		return 0
	}
	return v.ring(ring).Len(idx)
}

func (v *view) SetCur(ring int, idx nic.ID) { v.ring(ring).SetCur(idx) }

func (v *view) SetHeadNext(ring int) error {
	r := v.ring(ring)
	return v.SetHeadTo(ring, r.Following(r.Head()))
}

// SetHeadTo refuses to move head past cur: a manager may only release
// slots it (or some reader) has already inspected.
func (v *view) SetHeadTo(ring int, idx nic.ID) error {
	cur := v.Cur(ring)
	if v.CompareIDs(ring, cur, idx) == -1 {
		return fmt.Errorf("ringif: refusing to advance ring %d head past cur (cur=%d, requested=%d)", ring, cur, idx)
	}
	v.ring(ring).SetHead(idx)
	return nil
}

func (v *view) SetHeadToTail(ring int) {
	v.ring(ring).SetHead(v.Tail(ring))
}

func (v *view) AdvanceHead(ring int, n uint32) error {
	r := v.ring(ring)
	target := r.Head()
	for i := uint32(0); i < n; i++ {
		target = r.Following(target)
	}
	return v.SetHeadTo(ring, target)
}
