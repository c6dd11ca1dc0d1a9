// meta.go
//
// TaskMeta is the per-ltask descriptor: identity, entry, stack, stop
// and interrupt flags, statistics, and the version butex that joiners
// sleep on.  Metas live in a slab pool and are addressed by tid; a tid
// packs the slot index in its low 32 bits and the generation in its
// high 32, and the generation is the value of the slot's version butex,
// so one atomic word both names the generation and wakes the joiners
// when it advances.
//
// A slot is recycled without bumping its version; the bump happens
// exactly once, at task exit (the moment joiners must observe).

package sched

import (
	"sync"
	"sync/atomic"

	"ltask/constants"
)

// Tid identifies an ltask: generation<<32 | slot.  The zero Tid is
// never issued.
type Tid uint64

// InvalidTid is the zero id.
const InvalidTid Tid = 0

func makeTid(version uint32, slot uint32) Tid {
	return Tid(uint64(version)<<32 | uint64(slot))
}

func tidSlot(t Tid) uint32    { return uint32(t) }
func tidVersion(t Tid) uint32 { return uint32(t >> 32) }

// Tag partitions the worker pool; groups only run ltasks of their tag.
type Tag int32

// TagDefault routes to the default partition.
const TagDefault Tag = 0

// StackClass selects the pooling bucket for an ltask's stack, plus the
// pthread mode where the task runs inline on the worker's main stack.
type StackClass int32

const (
	StackSmall StackClass = iota
	StackNormal
	StackLarge
	// StackPthread tasks run on the worker's main stack without a
	// context switch; their blocking primitives degrade to thread-level
	// waits.
	StackPthread

	numStackClasses = 4
)

// Attr carries creation attributes.
type Attr struct {
	Class StackClass
	Tag   Tag
	// NoSignal defers the parking-lot wake of this start until the
	// creator flushes; used by batching producers.
	NoSignal bool
	// CPUClock enables the per-quantum thread CPU clock for this task.
	CPUClock bool
}

// AttrDefault is what a nil attr means.
var AttrDefault = Attr{Class: StackNormal, Tag: TagDefault}

// TaskFn is an ltask body.  The W handle is the task's rebindable
// scheduler context; it must never be cached across a suspension point
// by anything other than the handle itself.
type TaskFn func(w *W, arg any) any

// TaskStatistics accumulates per-task accounting, written only by the
// worker currently running the task.
type TaskStatistics struct {
	CPUTimeNs  int64 // wall time attributed across this task's quanta
	CPUUsageNs int64 // thread CPU clock time, when Attr.CPUClock is set
	NSwitched  int64 // times this task was switched out
}

// TaskMeta is the descriptor of one ltask generation.
type TaskMeta struct {
	tid  Tid
	fn   TaskFn
	arg  any
	ret  any
	attr Attr

	stack *ContextualStack

	stopped     atomic.Bool
	interrupted atomic.Bool

	cpuwideStartNs int64
	stat           TaskStatistics

	// currentWaiter points at the butex waiter this task is parked on,
	// nil when not butex-blocked.  sleepTimer is the armed usleep
	// timer's handle, 0 when not sleeping.  Both exist for interrupt.
	currentWaiter atomic.Pointer[butexWaiter]
	sleepTimer    atomic.Uint32

	// versionButex's value is this slot's generation.
	versionButex *Butex

	// The most recent exit of this slot: value plus the generation that
	// produced it.  Written at exit under retMu, read by joiners after
	// the version advanced — including joiners that arrived late, when
	// the descriptor itself may already be recycled.
	retMu      sync.Mutex
	lastRet    any
	lastRetGen uint32

	slot uint32
}

// Tid returns the id of this generation.
func (m *TaskMeta) Tid() Tid { return m.tid }

// Attr returns the creation attributes.
func (m *TaskMeta) Attr() Attr { return m.attr }

// Stat returns a copy of the statistics.  Racy by nature; fields are
// written by one worker at a time.
func (m *TaskMeta) Stat() TaskStatistics { return m.stat }

// setStopped raises the advisory stop flag.
func (m *TaskMeta) setStopped() { m.stopped.Store(true) }

// isStopped reads the advisory stop flag.
func (m *TaskMeta) isStopped() bool { return m.stopped.Load() }

// ─────────────────────────────── pool ───────────────────────────────

// metaPool hands out TaskMeta slots.  Slabs are allocated on demand and
// never freed; the freelist recycles slots.  Allocation takes a mutex
// (one lock per start, off the switch path) but address is lock-free:
// the slab directory is copy-on-write behind an atomic pointer because
// sched_to resolves a meta on every switch.
type metaPool struct {
	mu    sync.Mutex
	dir   atomic.Pointer[[][]TaskMeta]
	free  []uint32
}

func newMetaPool() *metaPool {
	p := &metaPool{}
	empty := make([][]TaskMeta, 0)
	p.dir.Store(&empty)
	return p
}

// alloc reserves a slot and primes it for a new generation.
func (p *metaPool) alloc(attr Attr, fn TaskFn, arg any) (*TaskMeta, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		old := *p.dir.Load()
		nslots := len(old) * constants.MetaSlabSize
		if nslots >= constants.MaxMetaSlots {
			p.mu.Unlock()
			return nil, ErrAgain
		}
		slab := make([]TaskMeta, constants.MetaSlabSize)
		base := uint32(nslots)
		for i := range slab {
			slab[i].slot = base + uint32(i)
			slab[i].versionButex = newButex(1) // generation 0 reserved
			p.free = append(p.free, base+uint32(i))
		}
		next := make([][]TaskMeta, len(old)+1)
		copy(next, old)
		next[len(old)] = slab
		p.dir.Store(&next)
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	m := p.slotMeta(slot)
	m.fn = fn
	m.arg = arg
	m.ret = nil
	m.attr = attr
	m.stack = nil
	m.stopped.Store(false)
	m.interrupted.Store(false)
	m.stat = TaskStatistics{}
	m.currentWaiter.Store(nil)
	m.sleepTimer.Store(0)
	m.tid = makeTid(uint32(m.versionButex.Value()), slot)
	return m, nil
}

// address resolves a tid, returning nil when the generation is stale.
// Lock-free: runs on the switch path.
func (p *metaPool) address(tid Tid) *TaskMeta {
	slot := tidSlot(tid)
	dir := *p.dir.Load()
	if int(slot) >= len(dir)*constants.MetaSlabSize {
		return nil
	}
	m := &dir[slot>>constants.MetaSlabShift][slot&(constants.MetaSlabSize-1)]
	if uint32(m.versionButex.Value()) != tidVersion(tid) {
		return nil
	}
	return m
}

// recycle returns a slot to the freelist.  The version was already
// bumped at exit.
func (p *metaPool) recycle(m *TaskMeta) {
	m.fn = nil
	m.arg = nil
	m.ret = nil
	m.stack = nil
	p.mu.Lock()
	p.free = append(p.free, m.slot)
	p.mu.Unlock()
}

func (p *metaPool) slotMeta(slot uint32) *TaskMeta {
	dir := *p.dir.Load()
	return &dir[slot>>constants.MetaSlabShift][slot&(constants.MetaSlabSize-1)]
}

// exitValue returns the value tid's generation exited with, or nil when
// that exit is no longer the slot's most recent one (or never
// happened).  Safe on stale and garbage tids.
func (p *metaPool) exitValue(tid Tid) any {
	slot := tidSlot(tid)
	dir := *p.dir.Load()
	if int(slot) >= len(dir)*constants.MetaSlabSize {
		return nil
	}
	m := &dir[slot>>constants.MetaSlabShift][slot&(constants.MetaSlabSize-1)]
	m.retMu.Lock()
	defer m.retMu.Unlock()
	if m.lastRetGen == tidVersion(tid) {
		return m.lastRet
	}
	return nil
}
