package writer

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/nic/simnic"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// ctrlCapture is a worker.Task whose sole purpose is to hand its
// *worker.Controller back to the test, so the test can drive
// Task.handleConn/Task.handleWakeup directly without racing against
// the writer's own accept loop.
type ctrlCapture struct {
	ctrlC chan *worker.Controller
}

func (c *ctrlCapture) Name() string                  { return "capture" }
func (c *ctrlCapture) Init(ctx context.Context) error { return nil }
func (c *ctrlCapture) Run(ctx context.Context, ctrl *worker.Controller) error {
	c.ctrlC <- ctrl
	<-ctrl.Stopped()
	return nil
}
func (c *ctrlCapture) Finalize(ctx context.Context) {}

func newTestController(t *testing.T, rt *worker.Runtime, ctx context.Context, ringCount int) (*worker.Handle, *worker.Controller) {
	t.Helper()
	cap := &ctrlCapture{ctrlC: make(chan *worker.Controller, 1)}
	h, err := rt.Start(ctx, cap, ringCount, false)
	require.NoError(t, err)
	require.Equal(t, worker.SigInit, <-h.Signals())
	return h, <-cap.ctrlC
}

// connPair returns a connected, loopback TCP pair, used the same way
// internal/histogram's task tests avoid net.Pipe's synchronous
// blocking semantics.
func connPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedC := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedC <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-acceptedC
	return client, server
}

// writerRawFrame builds a minimal, well-formed event frame: a 14-byte
// link header, declared length, frame_seq, evt_size and evt_type as
// given, proto_seq 0, and a zero-filled body of bodyLen bytes.
func writerRawFrame(fseq uint16, evtSize, evtType uint16, bodyLen int) []byte {
	raw := make([]byte, frame.HeaderLen+bodyLen)
	binary.BigEndian.PutUint16(raw[12:14], uint16(frame.EtherTypeEvent))
	binary.LittleEndian.PutUint16(raw[14:16], uint16(len(raw)))
	binary.LittleEndian.PutUint16(raw[16:18], fseq)
	binary.LittleEndian.PutUint16(raw[18:20], 0)
	binary.LittleEndian.PutUint16(raw[20:22], evtSize)
	binary.LittleEndian.PutUint16(raw[22:24], evtType)
	return raw
}

func writerTickFrame(fseq uint16) []byte {
	return writerRawFrame(fseq, 3, frame.EvtTick, frame.TickHeaderLen)
}

func writerPeakFrame(fseq uint16) []byte {
	return writerRawFrame(fseq, 1, frame.EvtPeak, frame.PeakHeaderLen)
}

// TestTaskEndToEndWritesFramesAndFinishesOnMinTicks drives
// handleConn -> handleWakeup -> finishJob over a real connection, a
// real ring, and a real file, the way histogram's task_test.go drives
// handleWakeup -> onFrame -> publish.
func TestTaskEndToEndWritesFramesAndFinishesOnMinTicks(t *testing.T) {
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	peak := writerPeakFrame(0)
	tick1 := writerTickFrame(1)
	peak2 := writerPeakFrame(2)
	tick2 := writerTickFrame(3)

	ring := simnic.NewRing(8, 256)
	ring.Produce(peak)
	ring.Produce(tick1)
	ring.Produce(peak2)
	ring.Produce(tick2)

	handle := simnic.NewHandle(ring)
	reader := ringif.New(handle)

	canon := Canonicalizer{Root: dir}
	task := New("unused", canon, reader, log)

	client, server := connPair(t)
	defer client.Close()

	req := Request{Filename: "run.bin", MinTicks: 2, Mode: ModeCreateOrOverwrite}
	require.NoError(t, WriteRequest(client, req))

	rt, ctx := worker.NewRuntime(context.Background(), log)
	th, ctrl := newTestController(t, rt, ctx, 1)

	task.handleConn(ctrl, server)
	require.NotNil(t, task.job, "a valid write request must start a job")
	assert.True(t, ctrl.Descriptor().Active())

	task.handleWakeup(ctx, ctrl)

	assert.Nil(t, task.job, "the job must be cleared once min_ticks is reached")
	assert.False(t, ctrl.Descriptor().Active(), "reaching min_ticks must deactivate the task")

	rep, err := ReadReply(client)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, rep.Status)
	assert.EqualValues(t, 2, rep.Ticks)
	assert.EqualValues(t, 4, rep.Frames)
	assert.EqualValues(t, 0, rep.FramesLost)

	wantSize := uint64(len(peak) + len(tick1) + len(peak2) + len(tick2))
	assert.Equal(t, wantSize, rep.Size)

	data, err := os.ReadFile(filepath.Join(dir, "run.bin"))
	require.NoError(t, err)
	require.Len(t, data, statsHeaderLen+int(wantSize))
	assert.Equal(t, decodeStats([statsHeaderLen]byte(data[:statsHeaderLen])), Stats{
		Ticks: 2, Size: wantSize, Frames: 4, FramesLost: 0, Errors: 0,
	})

	th.Stop()
	require.Equal(t, worker.SigDied, <-th.Signals())
	require.NoError(t, rt.Wait())
}

// TestOnFrameForcesDrainToFixedFrameMarginNotFrameSize pins the
// headroom invariant down against a real async write: the drain loop
// must compare free space against the fixed frame.MaxFrameLen, not the
// current (possibly tiny) frame's own declared length.
//
// The scratch ring is pre-loaded almost full, leaving a margin below
// frame.MaxFrameLen but well above either test frame's own length. A
// comparison against a frame's own declared length would never see
// either frame as reason to wait (both are far smaller than the margin
// already present), so the stale bytes would only ever be submitted,
// never force-reaped, and would sit behind two more frames' worth of
// bytes. Comparing against the fixed frame.MaxFrameLen forces the
// first frame's loop to submit the stale bytes and the second frame's
// loop to block until that write lands, so its byte count shows up in
// stats.Size before the second frame is ever copied in.
func TestOnFrameForcesDrainToFixedFrameMarginNotFrameSize(t *testing.T) {
	scratch, err := newScratchRing()
	require.NoError(t, err)
	defer scratch.Close()

	f, err := os.CreateTemp(t.TempDir(), "writer-headroom")
	require.NoError(t, err)
	defer f.Close()

	const headroom = 1000
	stale := make([]byte, len(scratch.buf)-headroom)
	scratch.Copy(stale)
	require.Less(t, scratch.Free(), frame.MaxFrameLen)
	require.Greater(t, scratch.Free(), len(writerTickFrame(0)))

	j := &job{file: f, minTicks: 2, scratch: scratch}
	task := &Task{job: j}
	d := worker.NewDescriptor("writer-test", 1, true)
	cb := task.onFrame(context.Background(), d)

	tick1 := writerTickFrame(0)
	cb(frame.New(tick1), uint16(len(tick1)), 0)
	// Nothing was in flight yet, so the first frame's margin loop only
	// submits the stale region; there is nothing to reap on this call.
	assert.Zero(t, j.stats.Size)
	assert.True(t, scratch.aw.Pending())

	peak := writerPeakFrame(1)
	cb(frame.New(peak), uint16(len(peak)), 0)

	assert.Equal(t, uint64(len(stale)), j.stats.Size,
		"the stale write must be force-drained before a second small frame is let in")
	assert.GreaterOrEqual(t, scratch.Free(), frame.MaxFrameLen,
		"the margin invariant must hold again once the stale write has been reaped")
}
