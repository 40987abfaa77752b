package writer

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/tes-daq/tesfcd/internal/dispatch"
	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// job is the write-in-progress state spec.md §4.F's "write job"
// describes. It exists from request acceptance to completion.
type job struct {
	file     *os.File
	path     string
	minTicks uint64
	mode     Mode
	conn     net.Conn
	scratch  *scratchRing
	stats    Stats
}

// Task is the write-to-file worker task (component F).
type Task struct {
	addr   string
	canon  Canonicalizer
	reader ringif.Reader
	log    *zap.Logger

	ln  net.Listener
	job *job
}

// New builds the writer task. addr is the TCP address to listen on
// for client requests; canon resolves and contains write targets under
// its root; reader is the task's read-only view of the rings.
func New(addr string, canon Canonicalizer, reader ringif.Reader, log *zap.Logger) *Task {
	return &Task{addr: addr, canon: canon, reader: reader, log: log}
}

func (t *Task) Name() string { return "writer" }

func (t *Task) Init(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("writer: listen on %s: %w", t.addr, err)
	}
	t.ln = ln
	return nil
}

func (t *Task) Finalize(ctx context.Context) {
	if t.job != nil {
		t.job.file.Close()
		t.job.scratch.Close()
		t.job.conn.Close()
		t.job = nil
	}
	t.ln.Close()
}

func (t *Task) Run(ctx context.Context, ctrl *worker.Controller) error {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	conns := make(chan acceptResult)
	go func() {
		for {
			conn, err := t.ln.Accept()
			select {
			case conns <- acceptResult{conn, err}:
			case <-ctrl.Stopped():
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctrl.Stopped():
			return nil
		case res := <-conns:
			if res.err != nil {
				return fmt.Errorf("writer: accept: %w", res.err)
			}
			t.handleConn(ctrl, res.conn)
		case <-ctrl.Wakeups():
			t.handleWakeup(ctx, ctrl)
		}
	}
}

// handleConn processes exactly one request on a freshly accepted
// connection, per spec.md §4.F's external protocol.
func (t *Task) handleConn(ctrl *worker.Controller, conn net.Conn) {
	if t.job != nil {
		// A job is already running; the client socket only accepts
		// one outstanding request at a time, per the original's
		// single-threaded REP design.
		WriteReply(conn, Fail)
		conn.Close()
		return
	}

	req, err := ReadRequest(conn)
	if err != nil {
		conn.Close()
		return
	}

	if req.MinTicks == 0 {
		t.handleStatusQuery(req, conn)
		return
	}

	path, err := t.canon.Resolve(req.Filename)
	if err != nil {
		t.log.Debug("rejecting write request", zap.String("filename", req.Filename), zap.Error(err))
		WriteReply(conn, Fail)
		conn.Close()
		return
	}

	flags := os.O_RDWR | os.O_CREATE
	switch req.Mode {
	case ModeCreateExclusive:
		flags |= os.O_EXCL
	case ModeCreateOrOverwrite:
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		WriteReply(conn, Fail)
		conn.Close()
		return
	}
	if _, err := f.Write(make([]byte, statsHeaderLen)); err != nil {
		f.Close()
		WriteReply(conn, Fail)
		conn.Close()
		return
	}

	scratch, err := newScratchRing()
	if err != nil {
		f.Close()
		WriteReply(conn, Fail)
		conn.Close()
		return
	}

	t.job = &job{
		file:     f,
		path:     path,
		minTicks: req.MinTicks,
		mode:     req.Mode,
		conn:     conn,
		scratch:  scratch,
	}
	ctrl.Descriptor().SetActive(true)
}

func (t *Task) handleStatusQuery(req Request, conn net.Conn) {
	defer conn.Close()
	path, err := t.canon.Resolve(req.Filename)
	if err != nil {
		WriteReply(conn, Fail)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		WriteReply(conn, Fail)
		return
	}
	defer f.Close()

	var buf [statsHeaderLen]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		WriteReply(conn, Fail)
		return
	}
	s := decodeStats(buf)
	WriteReply(conn, Reply{
		Status:     StatusOK,
		Ticks:      s.Ticks,
		Size:       s.Size,
		Frames:     s.Frames,
		FramesLost: s.FramesLost,
	})
}

// handleWakeup runs the dispatch core over the job's target ring(s),
// matching spec.md §4.C's "busy set for the duration of a dispatch
// run" rule.
func (t *Task) handleWakeup(ctx context.Context, ctrl *worker.Controller) {
	d := ctrl.Descriptor()
	d.SetBusy(true)
	res := dispatch.Run(t.reader, d, t.onFrame(ctx, d))
	d.SetBusy(false)

	switch {
	case res == dispatch.ResultError:
		d.SetActive(false)
		d.SetErrored(true)
		t.finishJob(ctx, true)
	case !d.Active() && t.job != nil:
		t.finishJob(ctx, false)
	}
}

// onFrame returns the dispatch.Callback bound to the current job. d is
// the task's own descriptor: reaching min_ticks clears Active directly
// from inside the callback, the way s_task_save_pkt_hn sets
// self->active = 0 the instant the tick count is hit, rather than
// waiting for some later pass to notice.
func (t *Task) onFrame(ctx context.Context, d *worker.Descriptor) dispatch.Callback {
	return func(fr frame.Frame, declaredLen uint16, gap uint16) dispatch.Verdict {
		j := t.job
		// The margin kept free on every entry/exit is the fixed worst
		// case (frame.MaxFrameLen), not this frame's own declared
		// length, matching s_task_save_pkt_hn's TSAVE_BUFSIZE -
		// MAX_FPGA_FRAME_LEN threshold.
		for j.scratch.Free() < frame.MaxFrameLen {
			n, err := j.scratch.Advance(ctx, j.file, statsHeaderLen, true)
			if err != nil {
				j.stats.Errors++
				return dispatch.Verdict{Error: true}
			}
			j.stats.Size += uint64(n)
			if n == 0 {
				break
			}
		}

		if j.stats.Frames > 0 {
			j.stats.FramesLost += uint64(gap)
		}
		j.stats.Frames++
		if fr.IsTick() {
			j.stats.Ticks++
		}

		j.scratch.Copy(fr.Bytes()[:declaredLen])

		n, err := j.scratch.Advance(ctx, j.file, statsHeaderLen, false)
		if err != nil {
			j.stats.Errors++
			return dispatch.Verdict{Error: true}
		}
		j.stats.Size += uint64(n)

		if j.stats.Ticks == j.minTicks {
			d.SetActive(false)
			return dispatch.Verdict{Stop: true}
		}
		return dispatch.Verdict{}
	}
}

// finishJob drains any remaining buffered bytes, writes the stats
// header, closes the file, and replies to the waiting client.
func (t *Task) finishJob(ctx context.Context, ioErr bool) {
	j := t.job
	if j == nil {
		return
	}

	n, err := j.scratch.Drain(ctx, j.file, statsHeaderLen)
	j.stats.Size += uint64(n)
	if err != nil {
		ioErr = true
		j.stats.Errors++
	}
	j.scratch.Close()

	status := StatusOK
	if ioErr {
		status = StatusFail
	} else {
		header := j.stats.encode()
		if _, err := j.file.WriteAt(header[:], 0); err != nil {
			status = StatusFail
		}
	}
	j.file.Close()

	WriteReply(j.conn, Reply{
		Status:     status,
		Ticks:      j.stats.Ticks,
		Size:       j.stats.Size,
		Frames:     j.stats.Frames,
		FramesLost: j.stats.FramesLost,
	})
	j.conn.Close()

	t.job = nil
}
