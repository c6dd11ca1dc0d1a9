// local.go
//
// Local is a bounded Chase–Lev work-stealing deque of task ids.  The
// owning worker pushes and pops at the bottom; stealing peers CAS the
// top.  The owner's end is LIFO so a worker keeps its own working set
// hot, the stealers' end is FIFO so the oldest work migrates first.
//
// Layout mirrors the usual discipline for these structures: bottom and
// top live on separate cache lines so an owner push never bounces the
// line the stealers are hammering.  All accesses go through
// sync/atomic, whose sequentially-consistent ordering is a conservative
// superset of the acquire/release pairs the algorithm needs; in
// particular the Store(bottom)→Load(top) sequence in PopBottom is the
// classic Dekker fence point.  Slots are atomic too: a stealer may read
// a slot it then fails to CAS, and that read must not tear.

package runq

import (
	"sync/atomic"

	"ltask/utils"
)

// Local is owned by one worker and stolen from by any number of peers.
type Local struct {
	buf  []atomic.Uint64
	mask uint64

	_   [64]byte // keep top away from buf/mask metadata
	top atomic.Uint64

	_      [64]byte // keep bottom off the stealers' line
	bottom atomic.Uint64
}

// NewLocal allocates a deque whose capacity is rounded up to a power of
// two.  Capacity is fixed for the queue's lifetime.
func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		panic("runq: capacity must be > 0")
	}
	size := utils.NextPow2(capacity)
	return &Local{
		buf:  make([]atomic.Uint64, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the fixed capacity.
func (q *Local) Cap() int { return len(q.buf) }

// Size returns a racy estimate of the element count; only useful for
// metrics and heuristics.
func (q *Local) Size() int {
	b := q.bottom.Load()
	t := q.top.Load()
	if b <= t {
		return 0
	}
	return int(b - t)
}

// PushBottom enqueues tid at the owner's end.  Owner only.  Returns
// false when the deque is full.
func (q *Local) PushBottom(tid uint64) bool {
	b := q.bottom.Load()
	t := q.top.Load()
	if b-t >= uint64(len(q.buf)) {
		return false
	}
	q.buf[b&q.mask].Store(tid)
	q.bottom.Store(b + 1) // release: publishes the slot to stealers
	return true
}

// PopBottom dequeues the most recently pushed tid.  Owner only.
func (q *Local) PopBottom() (uint64, bool) {
	b := q.bottom.Load()
	t := q.top.Load()
	if t >= b {
		return 0, false
	}
	newb := b - 1
	q.bottom.Store(newb)
	// Dekker point: the store above must be visible before we re-read
	// top, otherwise a concurrent stealer and the owner could both take
	// the last element.  sync/atomic's seq-cst ordering provides the
	// store-load fence.
	t = q.top.Load()
	if t > newb {
		// Lost the race entirely: deque went empty under us.
		q.bottom.Store(b)
		return 0, false
	}
	tid := q.buf[newb&q.mask].Load()
	if t != newb {
		// More than one element remained; no stealer can reach newb.
		return tid, true
	}
	// Exactly one element: fight the stealers for it.
	won := q.top.CompareAndSwap(t, t+1)
	q.bottom.Store(b)
	if !won {
		return 0, false
	}
	return tid, true
}

// StealTop dequeues the oldest tid on behalf of a peer.  Any thread.
// A CAS loss is reported as empty; callers treat it as "try elsewhere",
// which is all the steal loop needs.  Top only ever grows, so there is
// no ABA window, and a slot read that loses its CAS is discarded.
func (q *Local) StealTop() (uint64, bool) {
	t := q.top.Load()
	b := q.bottom.Load()
	if t >= b {
		return 0, false
	}
	tid := q.buf[t&q.mask].Load()
	if !q.top.CompareAndSwap(t, t+1) {
		return 0, false
	}
	return tid, true
}
