package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/nic/simnic"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// pushFrame builds a minimal peak-event frame with the given frame_seq
// (link-layer type left zero), and appends it to the ring.
func pushFrame(t *testing.T, ring *simnic.Ring, fseq uint16) {
	t.Helper()
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[16:18], fseq)
	binary.LittleEndian.PutUint16(buf[18:20], 0)    // proto_seq
	binary.LittleEndian.PutUint16(buf[20:22], 1)     // evt_size
	binary.LittleEndian.PutUint16(buf[22:24], 0x0000) // EvtPeak
	ring.Produce(buf)
}

func TestRunInactiveTask(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, false)

	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		t.Fatal("callback must not run for an inactive task")
		return Verdict{}
	})
	assert.Equal(t, ResultInactive, res)
}

func TestRunFalseWakeup(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, true)

	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		t.Fatal("callback must not run with nothing in the ring")
		return Verdict{}
	})
	assert.Equal(t, ResultFalseWakeup, res)
}

func TestRunDispatchesConsecutiveRunAndStopsOnGap(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, true)

	pushFrame(t, ring, 10)
	pushFrame(t, ring, 11)
	pushFrame(t, ring, 13) // gap after 11->13
	ring.SetCur(3)

	var seen []uint16
	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		seen = append(seen, fr.FrameSeq())
		return Verdict{}
	})

	require.Equal(t, ResultDispatched, res)
	assert.Equal(t, []uint16{10, 11}, seen)
	assert.EqualValues(t, 2, d.Head(0)) // stopped before slot holding fseq 13
}

func TestRunStopsWhenCallbackAsks(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, true)

	pushFrame(t, ring, 1)
	pushFrame(t, ring, 2)
	ring.SetCur(2)

	calls := 0
	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		calls++
		return Verdict{Stop: true}
	})
	assert.Equal(t, ResultDispatched, res)
	assert.Equal(t, 1, calls)
}

func TestRunReportsCallbackError(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, true)

	pushFrame(t, ring, 1)
	ring.SetCur(1)

	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		return Verdict{Error: true}
	})
	assert.Equal(t, ResultError, res)
}

func TestRunDropsOversizeFrame(t *testing.T) {
	ring := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 1, true)

	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[14:16], 9000) // declared length far exceeds the slot
	ring.Produce(buf)
	ring.SetCur(1)

	res := Run(r, d, func(fr frame.Frame, declaredLen uint16, gap uint16) Verdict {
		t.Fatal("callback must not run for an oversize frame")
		return Verdict{}
	})
	assert.Equal(t, ResultDispatched, res)
	assert.EqualValues(t, 0, d.Head(0)) // left in place, matching original_source's behavior
}

func TestSelectRingPrefersSmallestGapLowerIndexOnTie(t *testing.T) {
	ring0 := simnic.NewRing(8, 64)
	ring1 := simnic.NewRing(8, 64)
	h := simnic.NewHandle(ring0, ring1)
	r := ringif.New(h)
	d := worker.NewDescriptor("t", 2, true)

	pushFrame(t, ring0, 5)
	pushFrame(t, ring1, 5)
	ring0.SetCur(1)
	ring1.SetCur(1)

	ring, gap, ok := selectRing(r, d, 4) // prev_fseq=4 -> gap 0 on both
	require.True(t, ok)
	assert.Equal(t, 0, ring)
	assert.EqualValues(t, 0, gap)
}
