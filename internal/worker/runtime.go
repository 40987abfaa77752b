package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is implemented by each of the two consumer tasks spec.md §4.F
// and §4.G describe (the writer and the histogram publisher). Init
// performs any start-up that can fail (binding a listen socket,
// mapping the scratch buffer); Run is the task's main loop, and must
// return promptly once ctrl.Stopped() fires; Finalize releases
// resources acquired in Init regardless of how Run ended.
type Task interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context, ctrl *Controller) error
	Finalize(ctx context.Context)
}

// Controller is a task's view of the coordinator<->task protocol: a
// channel that receives a value each time the coordinator sends
// SigWakeup, a channel closed when the coordinator sends SigStop, and
// the task's own Descriptor.
type Controller struct {
	wakeups chan struct{}
	stop    chan struct{}
	desc    *Descriptor
}

func (c *Controller) Wakeups() <-chan struct{} { return c.wakeups }
func (c *Controller) Stopped() <-chan struct{} { return c.stop }
func (c *Controller) Descriptor() *Descriptor  { return c.desc }

// Handle is the coordinator's view of a running task: it can push a
// wakeup or a stop request, and observe the signal the task last
// emitted.
type Handle struct {
	desc    *Descriptor
	ctrl    *Controller
	signals chan Signal
}

func (h *Handle) Descriptor() *Descriptor { return h.desc }

// Signals is the coordinator-facing stream of SigInit/SigDied events
// (SigStop/SigWakeup flow the other way, via Wakeup/Stop below).
func (h *Handle) Signals() <-chan Signal { return h.signals }

// Wakeup delivers SigWakeup. It never blocks: a task that is already
// busy processing a previous wakeup will simply pick up the coalesced
// signal on its next pass through ctrl.Wakeups().
func (h *Handle) Wakeup() {
	select {
	case h.ctrl.wakeups <- struct{}{}:
	default:
	}
}

// Stop delivers SigStop by closing the stop channel. It is not
// idempotent: a second call closes an already-closed channel and
// panics. The coordinator calls it exactly once per task, at shutdown.
func (h *Handle) Stop() {
	close(h.ctrl.stop)
}

// Runtime supervises the goroutines backing every task started with
// Start, the same way pdump's reader/waker workers are supervised:
// one errgroup per daemon lifetime, first non-nil error cancels the
// shared context.
type Runtime struct {
	group *errgroup.Group
	log   *zap.Logger
}

func NewRuntime(ctx context.Context, log *zap.Logger) (*Runtime, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Runtime{group: g, log: log}, gctx
}

// Start launches task on its own goroutine and blocks until the task
// reports SigInit or SigDied, mirroring the synchronous start-up
// handshake spec.md §4.C requires before the coordinator admits a task
// into its active set.
func (r *Runtime) Start(ctx context.Context, task Task, ringCount int, autoactivate bool) (*Handle, error) {
	desc := NewDescriptor(task.Name(), ringCount, autoactivate)
	ctrl := &Controller{
		wakeups: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		desc:    desc,
	}
	h := &Handle{
		desc:    desc,
		ctrl:    ctrl,
		signals: make(chan Signal, 1),
	}

	initResult := make(chan error, 1)

	r.group.Go(func() error {
		log := r.log.With(zap.String("task", task.Name()))

		if err := task.Init(ctx); err != nil {
			desc.SetErrored(true)
			initResult <- err
			h.signals <- SigDied
			return fmt.Errorf("%s: init: %w", task.Name(), err)
		}
		initResult <- nil
		h.signals <- SigInit

		runErr := task.Run(ctx, ctrl)
		task.Finalize(ctx)

		if runErr != nil {
			desc.SetErrored(true)
			log.Error("task exited with error", zap.Error(runErr))
			h.signals <- SigDied
			return fmt.Errorf("%s: run: %w", task.Name(), runErr)
		}
		desc.SetActive(false)
		h.signals <- SigDied
		return nil
	})

	if err := <-initResult; err != nil {
		return h, err
	}
	return h, nil
}

// Wait blocks until every task started on this runtime has returned,
// and reports the first error among them, if any.
func (r *Runtime) Wait() error {
	return r.group.Wait()
}
