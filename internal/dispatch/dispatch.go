// Package dispatch implements the per-task dispatch core of spec.md
// §4.E: given a WAKEUP, it picks the ring most likely to continue the
// sequence last seen and feeds frames from it to a task-supplied
// callback until a gap, a stop request, or the ring runs dry.
package dispatch

import (
	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/nic"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// Result tells the task's signal handler what happened so it can keep
// its own debug counters, mirroring the wakeups/wakeups_inactive/
// wakeups_false counters of the original daemon.
type Result int

const (
	// ResultInactive means the task was not active; nothing was done.
	ResultInactive Result = iota
	// ResultFalseWakeup means every ring was empty at the task's head.
	ResultFalseWakeup
	// ResultDispatched means at least one frame was handed off.
	ResultDispatched
	// ResultError means the callback reported a fatal error; the
	// caller must clear active and notify the coordinator.
	ResultError
)

// Verdict is returned by a Callback after each frame.
type Verdict struct {
	// Stop asks the dispatch loop to end cleanly ("enough for now").
	Stop bool
	// Error marks a fatal condition; the task must deactivate.
	Error bool
}

// Callback processes one decoded frame. gap is the number of frames
// lost between this one and the previous one seen by this task (0
// means consecutive).
type Callback func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict

// gapAt reads frame_seq at idx and returns its distance-minus-one from
// prevFSeq, exactly as original_source's s_sig_hn/s_task_dispatch
// compute fseq_gap.
func gapAt(r ringif.Reader, ring int, idx nic.ID, prevFSeq uint16) (gap uint16, fseq uint16) {
	fseq = frame.New(r.BufAt(ring, idx)).FrameSeq()
	return fseq - prevFSeq - 1, fseq
}

// selectRing picks the ring whose head frame continues the sequence
// most closely, per spec.md §4.E step 2. Ties favor the lower ring
// index, so strictly-less-than is used when updating the running best
// (unlike original_source's "<=", which favors the higher index on a
// tie — spec.md is explicit about the tie-break direction, so that is
// what's implemented here).
func selectRing(r ringif.Reader, d *worker.Descriptor, prevFSeq uint16) (ring int, gap uint16, ok bool) {
	best := uint16(0)
	found := false
	bestRing := -1
	for ring := 0; ring < d.RingCount(); ring++ {
		head := d.Head(ring)
		tail := r.Tail(ring)
		if head == tail {
			continue
		}
		g, _ := gapAt(r, ring, head, prevFSeq)
		if !found || g < best {
			found = true
			best = g
			bestRing = ring
			if g == 0 {
				break
			}
		}
	}
	if !found {
		return 0, 0, false
	}
	return bestRing, best, true
}

// Run executes one WAKEUP's worth of work for task descriptor d,
// reading through r and invoking cb for every frame it dispatches. It
// returns once the chosen ring runs dry, the gap becomes nonzero, or
// cb asks to stop.
func Run(r ringif.Reader, d *worker.Descriptor, cb Callback) Result {
	if !d.Active() {
		return ResultInactive
	}

	prevFSeq, _ := d.PrevFrameSeq() // zero-value default matches a fresh task's prev_fseq
	ring, gap, ok := selectRing(r, d, prevFSeq)
	if !ok {
		return ResultFalseWakeup
	}

	for {
		head := d.Head(ring)
		tail := r.Tail(ring)
		if head == tail {
			return ResultDispatched
		}

		buf := r.BufAt(ring, head)
		slotLen := r.LenAt(ring, head)
		declaredLen := frame.New(buf).DeclaredLen()
		if declaredLen > slotLen {
			// Drop silently; same policy as original_source's
			// s_task_dispatch, which abandons the whole run rather
			// than skip past a frame it can't trust the length of.
			return ResultDispatched
		}

		fr := frame.New(buf[:declaredLen])
		v := cb(fr, declaredLen, gap)

		fseq := fr.FrameSeq()
		d.SetPrevFrameSeq(fseq)
		switch {
		case fr.IsMCA():
			d.SetPrevProtoSeq(worker.ProtoMCA, fr.ProtoSeq())
		case fr.IsTrace():
			d.SetPrevProtoSeq(worker.ProtoTrace, fr.ProtoSeq())
		default:
			d.SetPrevProtoSeq(worker.ProtoPulse, fr.ProtoSeq())
		}

		next := nextHead(r, ring, head)
		d.SetHead(ring, next)

		if v.Error {
			return ResultError
		}
		if v.Stop {
			return ResultDispatched
		}

		if next == r.Tail(ring) {
			return ResultDispatched
		}
		nextGap, _ := gapAt(r, ring, next, fseq)
		if nextGap != 0 {
			return ResultDispatched
		}
		gap = nextGap
	}
}

// nextHead advances idx to the ring's following slot. The Reader
// interface doesn't expose Following directly (that's a manager/nic
// concern), so dispatch steps via the ring's buffer count.
func nextHead(r ringif.Reader, ring int, idx nic.ID) nic.ID {
	n := r.BufCount(ring)
	return nic.ID((uint32(idx) + 1) % n)
}
