// Package histogram implements the publisher task of spec.md §4.G: it
// reassembles the multi-frame MCA histogram stream into complete
// byte buffers and discards anything touched by loss.
package histogram

import (
	"fmt"

	"github.com/c2h5oh/datasize"

	"github.com/tes-daq/tesfcd/internal/frame"
)

// maxHistogramSize bounds the reassembly buffer, sized once the same
// way pdump/controlplane/ring.go sizes its ring buffers (a constant
// datasize.ByteSize rather than a bare integer literal). The legacy
// codec carries two competing constants here (65528 and 65576); 65528
// is the one its own comments mark correct once a size-field-width bug
// is accounted for, so that is the value this package uses (see
// DESIGN.md).
const maxHistogramSize datasize.ByteSize = 65528 * datasize.B

// MaxHistogramBytes is maxHistogramSize as a plain int, for slice
// capacities and length comparisons.
const MaxHistogramBytes = int(maxHistogramSize)

// state is the publisher's per-reassembly state machine.
type state int

const (
	stateIdle state = iota
	stateCollecting
	stateAborted
)

// Reassembly holds one in-progress (or discarded) histogram build. It
// is not safe for concurrent use; the publisher task owns one
// instance exclusively.
//
// proto_seq contiguity is judged against prevSeq/havePrev, which the
// caller must supply from the task descriptor's tracked MCA sequence
// (the counter internal/dispatch already updates after every MCA
// frame) rather than duplicating that bookkeeping here.
type Reassembly struct {
	st state

	declaredBins uint16
	curBins      uint16

	buf []byte // capacity MaxHistogramBytes, reused across histograms

	published uint64
	dropped   uint64
}

// New returns a fresh Reassembly. It starts in stateIdle: nothing is
// emitted until a header frame is seen, matching the legacy daemon's
// deliberate "discard starts true" choice so a server that starts
// mid-stream never publishes a garbage partial histogram.
func New() *Reassembly {
	return &Reassembly{buf: make([]byte, 0, MaxHistogramBytes)}
}

// Stats reports the lifetime published/dropped histogram counts.
func (r *Reassembly) Stats() (published, dropped uint64) {
	return r.published, r.dropped
}

// Feed processes one MCA frame (the caller must filter with
// fr.IsMCA() before calling). havePrev/prevSeq are the descriptor's
// previously recorded MCA proto_seq, read before dispatch advances it
// for this frame. It returns a non-nil histogram buffer exactly when a
// histogram just completed; the caller must copy it out before the
// next Feed call reuses the backing array.
func (r *Reassembly) Feed(fr frame.Frame, havePrev bool, prevSeq uint16) ([]byte, error) {
	seq := fr.ProtoSeq()
	if seq == 0 {
		return r.onHeader(fr)
	}
	return r.onContinuation(fr, seq, havePrev, prevSeq)
}

func (r *Reassembly) onHeader(fr frame.Frame) ([]byte, error) {
	if r.st == stateCollecting {
		// A new header before the previous histogram completed: abort
		// it, same as any other loss condition.
		r.abort()
	}

	declaredBins := fr.MCALastBin() + 1
	declaredSize := fr.MCASize()
	body := fr.Body()

	if int(declaredSize) > MaxHistogramBytes || len(body) > MaxHistogramBytes {
		r.st = stateAborted
		r.dropped++
		return nil, fmt.Errorf("histogram: declared size %d exceeds capacity %d", declaredSize, MaxHistogramBytes)
	}

	r.declaredBins = declaredBins
	r.curBins = numBins(body, true)
	r.buf = append(r.buf[:0], body...)
	r.st = stateCollecting

	return r.maybePublish()
}

func (r *Reassembly) onContinuation(fr frame.Frame, seq uint16, havePrev bool, prevSeq uint16) ([]byte, error) {
	if r.st != stateCollecting {
		// Idle or already Aborted: nothing to do until the next header.
		return nil, nil
	}

	if !havePrev || seq != prevSeq+1 {
		r.abort()
		return nil, fmt.Errorf("histogram: non-contiguous proto_seq (prev %d, got %d)", prevSeq, seq)
	}

	body := fr.Body()
	if len(r.buf)+len(body) > MaxHistogramBytes {
		r.abort()
		return nil, fmt.Errorf("histogram: reassembly would exceed capacity %d", MaxHistogramBytes)
	}

	r.buf = append(r.buf, body...)
	r.curBins += numBins(body, false)

	if r.curBins > r.declaredBins {
		r.abort()
		return nil, fmt.Errorf("histogram: received %d bins, declared %d", r.curBins, r.declaredBins)
	}

	return r.maybePublish()
}

func (r *Reassembly) maybePublish() ([]byte, error) {
	if r.curBins != r.declaredBins {
		return nil, nil
	}
	out := r.buf
	r.published++
	r.st = stateIdle
	r.buf = r.buf[:0]
	r.declaredBins, r.curBins = 0, 0
	return out, nil
}

func (r *Reassembly) abort() {
	if r.st == stateCollecting {
		r.dropped++
	}
	r.st = stateAborted
	r.declaredBins, r.curBins = 0, 0
	r.buf = r.buf[:0]
}

// numBins returns the number of bins body contributes: the 40-byte MCA
// header eats into the header frame's bin count, continuation frames
// are pure bin data.
func numBins(body []byte, header bool) uint16 {
	n := len(body)
	if header {
		n -= frame.MCAHeaderLen
	}
	if n <= 0 {
		return 0
	}
	return uint16(n / frame.BinLen)
}
