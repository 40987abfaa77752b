package histogram

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/tes-daq/tesfcd/internal/dispatch"
	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// Task is the histogram publisher (component G). Unlike the writer
// task it autoactivates at start-up and never goes idle on its own;
// only a publish failure deactivates and errors it out.
type Task struct {
	addr   string
	reader ringif.Reader
	log    *zap.Logger

	ln   net.Listener
	subs map[net.Conn]struct{}

	reasm *Reassembly
}

// NewTask builds the publisher task. addr is the TCP address
// subscribers connect to; reader is the task's read-only view of the
// rings.
func NewTask(addr string, reader ringif.Reader, log *zap.Logger) *Task {
	return &Task{addr: addr, reader: reader, log: log, subs: make(map[net.Conn]struct{}), reasm: New()}
}

func (t *Task) Name() string { return "histogram" }

func (t *Task) Init(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("histogram: listen on %s: %w", t.addr, err)
	}
	t.ln = ln
	return nil
}

func (t *Task) Finalize(ctx context.Context) {
	for conn := range t.subs {
		conn.Close()
	}
	if t.ln != nil {
		t.ln.Close()
	}
}

// Run accepts subscriber connections, drops ones that disconnect, and
// broadcasts a completed histogram to every connection still open each
// time dispatch hands one off.
func (t *Task) Run(ctx context.Context, ctrl *worker.Controller) error {
	// The publisher is autoactivate: it starts consuming as soon as the
	// runtime hands it a descriptor, with no client action required.
	ctrl.Descriptor().SetActive(true)

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepts := make(chan acceptResult)
	go func() {
		for {
			conn, err := t.ln.Accept()
			select {
			case accepts <- acceptResult{conn, err}:
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

	closed := make(chan net.Conn)
	watch := func(conn net.Conn) {
		var b [1]byte
		// Subscribers never send anything on this connection; any
		// return (EOF, reset, ...) means it is gone.
		conn.Read(b[:])
		select {
		case closed <- conn:
		case <-ctrl.Stopped():
		}
	}

	for {
		select {
		case <-ctrl.Stopped():
			return nil
		case res := <-accepts:
			if res.err != nil {
				return fmt.Errorf("histogram: accept: %w", res.err)
			}
			t.subs[res.conn] = struct{}{}
			go watch(res.conn)
		case conn := <-closed:
			delete(t.subs, conn)
			conn.Close()
		case <-ctrl.Wakeups():
			if err := t.handleWakeup(ctrl); err != nil {
				return err
			}
		}
	}
}

func (t *Task) handleWakeup(ctrl *worker.Controller) error {
	d := ctrl.Descriptor()
	d.SetBusy(true)
	res := dispatch.Run(t.reader, d, t.onFrame(ctrl))
	d.SetBusy(false)

	if res == dispatch.ResultError {
		d.SetActive(false)
		d.SetErrored(true)
		return fmt.Errorf("histogram: publish failed")
	}
	return nil
}

// onFrame returns the dispatch.Callback bound to this task's
// reassembly state. Non-MCA frames and non-header MCA frames outside
// an in-progress histogram are ignored, per spec.md §4.G's Idle state.
func (t *Task) onFrame(ctrl *worker.Controller) dispatch.Callback {
	return func(fr frame.Frame, declaredLen uint16, gap uint16) dispatch.Verdict {
		if !fr.IsMCA() {
			return dispatch.Verdict{}
		}

		prevSeq, havePrev := ctrl.Descriptor().PrevProtoSeq(worker.ProtoMCA)
		buf, err := t.reasm.Feed(fr, havePrev, prevSeq)
		if err != nil {
			t.log.Debug("histogram reassembly aborted", zap.Error(err))
		}
		if buf == nil {
			return dispatch.Verdict{}
		}

		out := append([]byte(nil), buf...)
		if err := t.publish(out); err != nil {
			t.log.Error("publishing histogram failed", zap.Error(err))
			return dispatch.Verdict{Error: true}
		}
		return dispatch.Verdict{}
	}
}

// publish broadcasts buf, length-prefixed, to every connected
// subscriber. A write failure to any one of them is fatal to the task,
// per spec.md §4.G's "failure to publish marks the task error."
func (t *Task) publish(buf []byte) error {
	if len(buf) > 0xffff {
		return fmt.Errorf("histogram: histogram of %d bytes exceeds the length prefix", len(buf))
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(buf)))

	for conn := range t.subs {
		if _, err := conn.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := conn.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
