// Package coordinator implements the single loop of spec.md §4.D: it
// owns the NIC handle and the rings, watches for new frames, advances
// every ring's head to the slowest active consumer, and wakes the
// tasks that might have work to do.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/nic"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
)

// Coordinator drives readiness-triggered head advancement and
// broadcasts WAKEUP to the tasks it supervises.
type Coordinator struct {
	handle nic.Handle
	mgr    ringif.Manager
	tasks  []*worker.Handle
	log    *zap.Logger

	statsPeriod time.Duration
	received    []uint64
	missed      []uint64
	lastUpdate  time.Time
}

// New builds a coordinator over handle, managing the given rings
// through mgr and broadcasting to tasks. statsPeriod of zero disables
// periodic logging.
func New(handle nic.Handle, tasks []*worker.Handle, log *zap.Logger, statsPeriod time.Duration) *Coordinator {
	mgr := ringif.New(handle)
	return &Coordinator{
		handle:      handle,
		mgr:         mgr,
		tasks:       tasks,
		log:         log,
		statsPeriod: statsPeriod,
		received:    make([]uint64, mgr.RingCount()),
		missed:      make([]uint64, mgr.RingCount()),
	}
}

// Run blocks until ctx is canceled, servicing NIC readiness events and
// the statistics timer. On return it asks every task to stop and
// aggregates their shutdown errors with multierr, the same way the
// pack's zap-based services accumulate close errors.
func (c *Coordinator) Run(ctx context.Context) error {
	var statsC <-chan time.Time
	if c.statsPeriod > 0 {
		ticker := time.NewTicker(c.statsPeriod)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-c.handle.Readable():
			c.onReadiness()
		case now := <-statsC:
			c.logStats(now)
		}
	}
}

// shutdown asks every task to stop and waits for each to report back,
// aggregating any that reported an error with multierr, mirroring how
// the pack's zap-based services accumulate close errors rather than
// stopping at the first one.
func (c *Coordinator) shutdown() error {
	for _, h := range c.tasks {
		h.Stop()
	}
	var errs error
	for _, h := range c.tasks {
		<-h.Signals() // SigDied, emitted once the task's Run returns
		if h.Descriptor().Errored() {
			errs = multierr.Append(errs, fmt.Errorf("%s: task exited with an error", h.Descriptor().ID()))
		}
	}
	return errs
}

// onReadiness implements spec.md §4.D's per-readiness algorithm.
func (c *Coordinator) onReadiness() {
	ringCount := c.mgr.RingCount()
	global := make([]nic.ID, ringCount)
	seen := make([]bool, ringCount)
	anyActive := false

	for _, h := range c.tasks {
		d := h.Descriptor()
		if !d.Active() {
			continue
		}
		anyActive = true
		for r := 0; r < ringCount; r++ {
			hd := d.Head(r)
			if !seen[r] {
				global[r] = hd
				seen[r] = true
			} else {
				global[r] = c.mgr.EarlierID(r, global[r], hd)
			}
		}
	}
	if !anyActive {
		for r := 0; r < ringCount; r++ {
			global[r] = c.mgr.Tail(r)
		}
	}

	for _, h := range c.tasks {
		d := h.Descriptor()
		if d.Active() && !d.Busy() {
			h.Wakeup()
		}
	}

	for r := 0; r < ringCount; r++ {
		oldHead := c.mgr.Head(r)
		tail := c.mgr.Tail(r)
		if oldHead == tail {
			continue
		}

		n := c.mgr.BufCount(r)
		newCount := (uint32(global[r]) + n - uint32(oldHead)) % n
		c.received[r] += uint64(newCount)
		if newCount > 0 {
			a := frame.New(c.mgr.BufAt(r, oldHead)).FrameSeq()
			b := frame.New(c.mgr.BufAt(r, prevID(c.mgr, r, global[r]))).FrameSeq()
			dist := uint16(b - a)
			c.missed[r] += uint64(dist) - uint64(newCount) + 1
		}

		c.mgr.SetCur(r, global[r])
		if err := c.mgr.SetHeadTo(r, global[r]); err != nil {
			c.log.Error("failed to release ring slots", zap.Int("ring", r), zap.Error(err))
		}
	}
}

// prevID returns the slot immediately before idx, mod the ring's
// buffer count, used to find the frame at global_head-1.
func prevID(r ringif.Reader, ring int, idx nic.ID) nic.ID {
	n := r.BufCount(ring)
	return nic.ID((uint32(idx) + n - 1) % n)
}

func (c *Coordinator) logStats(now time.Time) {
	if c.lastUpdate.IsZero() {
		c.lastUpdate = now
		return
	}
	elapsed := now.Sub(c.lastUpdate).Seconds()

	var totalReceived, totalMissed uint64
	for r := range c.received {
		totalReceived += c.received[r]
		totalMissed += c.missed[r]
		c.received[r] = 0
		c.missed[r] = 0
	}

	var rate float64
	if elapsed > 0 {
		rate = float64(totalReceived) / elapsed
	}
	c.log.Info("capture stats",
		zap.Float64("elapsed_s", elapsed),
		zap.Uint64("received", totalReceived),
		zap.Uint64("missed", totalMissed),
		zap.Float64("pps", rate),
	)
	c.lastUpdate = now
}
