package worker

import (
	"sync/atomic"

	"github.com/tes-daq/tesfcd/internal/nic"
)

// ProtoKind selects which of the three per-sub-protocol sequence
// counters a task tracks, per spec.md §3 ("Sequence state").
type ProtoKind int

const (
	ProtoMCA ProtoKind = iota
	ProtoTrace
	ProtoPulse
	protoKindCount
)

// Descriptor is the cross-thread-visible slice of a task: the fields
// the coordinator reads to compute the slowest-consumer head, plus the
// flags spec.md §5 calls out as individually atomic with relaxed-read
// tolerance. Everything else about a task (its private data, sockets)
// lives in the Task implementation itself and is never touched by the
// coordinator.
type Descriptor struct {
	id           string
	autoactivate bool

	active atomic.Bool
	busy   atomic.Bool
	errord atomic.Bool

	heads     []atomic.Uint32 // per-ring head index, owned by this task
	prevFSeq  atomic.Uint32   // last observed 16-bit frame_seq, widened
	prevPSeq  [protoKindCount]atomic.Uint32
	havePSeq  [protoKindCount]atomic.Bool
	haveFSeq  atomic.Bool
}

// NewDescriptor allocates a descriptor for a task with ringCount rings.
// autoactivate mirrors spec.md §3: the publisher task becomes active on
// its own; the writer task only upon accepting a client job.
func NewDescriptor(id string, ringCount int, autoactivate bool) *Descriptor {
	d := &Descriptor{
		id:           id,
		autoactivate: autoactivate,
		heads:        make([]atomic.Uint32, ringCount),
	}
	d.active.Store(autoactivate)
	return d
}

func (d *Descriptor) ID() string          { return d.id }
func (d *Descriptor) Autoactivate() bool  { return d.autoactivate }
func (d *Descriptor) Active() bool        { return d.active.Load() }
func (d *Descriptor) SetActive(v bool)    { d.active.Store(v) }
func (d *Descriptor) Busy() bool          { return d.busy.Load() }
func (d *Descriptor) SetBusy(v bool)      { d.busy.Store(v) }
func (d *Descriptor) Errored() bool       { return d.errord.Load() }
func (d *Descriptor) SetErrored(v bool)   { d.errord.Store(v) }

// RingCount returns the number of rings this task tracks a head for.
func (d *Descriptor) RingCount() int { return len(d.heads) }

// Head returns the task's current position in ring r.
func (d *Descriptor) Head(r int) nic.ID { return nic.ID(d.heads[r].Load()) }

// SetHead records the task's new position in ring r. Only the task
// itself calls this; the coordinator only ever reads it.
func (d *Descriptor) SetHead(r int, idx nic.ID) { d.heads[r].Store(uint32(idx)) }

// PrevFrameSeq returns the last observed frame_seq and whether one has
// been observed yet.
func (d *Descriptor) PrevFrameSeq() (uint16, bool) {
	return uint16(d.prevFSeq.Load()), d.haveFSeq.Load()
}

func (d *Descriptor) SetPrevFrameSeq(v uint16) {
	d.prevFSeq.Store(uint32(v))
	d.haveFSeq.Store(true)
}

// PrevProtoSeq returns the last observed sub-protocol sequence number
// of the given kind.
func (d *Descriptor) PrevProtoSeq(kind ProtoKind) (uint16, bool) {
	return uint16(d.prevPSeq[kind].Load()), d.havePSeq[kind].Load()
}

func (d *Descriptor) SetPrevProtoSeq(kind ProtoKind, v uint16) {
	d.prevPSeq[kind].Store(uint32(v))
	d.havePSeq[kind].Store(true)
}

// ResetProtoSeq forgets the last observed sub-protocol sequence number
// of the given kind, so PrevProtoSeq reports none until the next
// SetPrevProtoSeq. prev_fseq and the other kinds are left unchanged.
func (d *Descriptor) ResetProtoSeq(kind ProtoKind) {
	d.havePSeq[kind].Store(false)
}
