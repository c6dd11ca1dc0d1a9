// butex.go
//
// Butex is the futex-for-ltasks: a 32-bit word plus a waiter queue.
// Wait parks the calling ltask when the word still holds the expected
// value; any wake requeues waiters through the normal ready-to-run
// paths.  The enqueue happens in a post-switch hook on the incoming
// context — the waiter cannot be put on a list any earlier, because a
// waker could requeue it onto another worker while its stack is still
// live here (the same rule every wait queue in this scheduler
// follows).
//
// External (non-worker) threads and pthread-mode tasks wait on a
// channel instead; they have no stack to hand back.
//
// The version butex of a meta slot reuses this type: its value is the
// slot's generation, bumped exactly once per exit.

package sched

import (
	"sync"
	"sync/atomic"

	"ltask/timerwheel"
)

// butexWaiter is one parked waiter.
type butexWaiter struct {
	meta     *TaskMeta // nil for external thread waiters
	expected int32
	b        *Butex
	c        *TaskControl
	sig      chan struct{} // external waiters only

	deadlineNs int64
	timer      timerwheel.Handle
	timedOut   bool

	next, prev *butexWaiter
	enqueued   bool
}

// Butex is a futex-like wait primitive keyed on an int32 word.
type Butex struct {
	value atomic.Int32
	mu    sync.Mutex
	head  *butexWaiter
	tail  *butexWaiter
}

func newButex(v int32) *Butex {
	b := &Butex{}
	b.value.Store(v)
	return b
}

// Value loads the word.
func (b *Butex) Value() int32 { return b.value.Load() }

// Store sets the word without waking anyone.
func (b *Butex) Store(v int32) { b.value.Store(v) }

// Add bumps the word and returns the new value.  Wakes nobody by
// itself; pair with a Wake call.
func (b *Butex) Add(d int32) int32 { return b.value.Add(d) }

func (b *Butex) enqueueLocked(w *butexWaiter) {
	w.enqueued = true
	w.next = nil
	w.prev = b.tail
	if b.tail != nil {
		b.tail.next = w
	} else {
		b.head = w
	}
	b.tail = w
}

func (b *Butex) removeLocked(w *butexWaiter) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		b.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		b.tail = w.prev
	}
	w.next, w.prev = nil, nil
	w.enqueued = false
}

// waitLtask parks the current ltask while the word equals expected.
// deadlineNs > 0 arms a timeout on the control's wheel clock.
// Returns ErrAgain when the word already moved, ErrTimeout, ErrIntr,
// ErrStop, or nil on a regular wake.
func (b *Butex) waitLtask(w *W, expected int32, deadlineNs int64) error {
	g := w.g
	m := g.curMeta
	if m.stack == g.mainStack {
		// pthread-mode (or main) context: no stack to hand back,
		// degrade to a thread-level wait.
		return b.waitExternal(expected)
	}
	if b.value.Load() != expected {
		return ErrAgain
	}
	wtr := &butexWaiter{
		meta:       m,
		expected:   expected,
		b:          b,
		c:          g.control,
		deadlineNs: deadlineNs,
	}
	m.currentWaiter.Store(wtr)
	g.setRemained(butexEnqueueHook, wtr)
	sched(&w.g)
	g = w.g

	m.currentWaiter.Store(nil)
	if wtr.timer != 0 {
		g.control.wheel.Unschedule(wtr.timer)
	}
	if m.interrupted.Swap(false) {
		if m.isStopped() {
			return ErrStop
		}
		return ErrIntr
	}
	if wtr.timedOut {
		return ErrTimeout
	}
	return nil
}

// butexEnqueueHook runs on the incoming context right after the waiter
// suspended.  The word is re-checked under the lock: a wake that
// happened between the caller's check and now must not strand it.
func butexEnqueueHook(g *TaskGroup, arg any) {
	wtr := arg.(*butexWaiter)
	b := wtr.b
	b.mu.Lock()
	if b.value.Load() != wtr.expected {
		b.mu.Unlock()
		wtr.meta.currentWaiter.Store(nil)
		g.readyToRun(wtr.meta, false)
		return
	}
	b.enqueueLocked(wtr)
	if wtr.deadlineNs > 0 {
		if h, ok := wtr.c.wheel.Schedule(wtr.deadlineNs, butexTimerFired, wtr); ok {
			wtr.timer = h
		}
	}
	b.mu.Unlock()
}

// butexTimerFired runs on the wheel thread.
func butexTimerFired(arg any) {
	wtr := arg.(*butexWaiter)
	b := wtr.b
	b.mu.Lock()
	if !wtr.enqueued {
		b.mu.Unlock()
		return // already woken or interrupted
	}
	b.removeLocked(wtr)
	wtr.timedOut = true
	b.mu.Unlock()
	wtr.meta.currentWaiter.CompareAndSwap(wtr, nil)
	wtr.c.readyToRunChoose(nil, wtr.meta)
}

// waitExternal parks the calling OS thread (or pthread-mode task).
func (b *Butex) waitExternal(expected int32) error {
	b.mu.Lock()
	if b.value.Load() != expected {
		b.mu.Unlock()
		return ErrAgain
	}
	wtr := &butexWaiter{
		expected: expected,
		b:        b,
		sig:      make(chan struct{}),
	}
	b.enqueueLocked(wtr)
	b.mu.Unlock()
	<-wtr.sig
	return nil
}

func (b *Butex) popLocked() *butexWaiter {
	w := b.head
	if w != nil {
		b.removeLocked(w)
	}
	return w
}

func dispatchWaiter(wtr *butexWaiter, self *TaskGroup) {
	if wtr.meta != nil {
		wtr.meta.currentWaiter.CompareAndSwap(wtr, nil)
		wtr.c.readyToRunChoose(self, wtr.meta)
		return
	}
	close(wtr.sig)
}

// WakeOne wakes at most one waiter.  self is the caller's group when
// the caller is a worker, nil otherwise.  Returns the number woken.
func (b *Butex) WakeOne(self *TaskGroup) int {
	b.mu.Lock()
	wtr := b.popLocked()
	b.mu.Unlock()
	if wtr == nil {
		return 0
	}
	dispatchWaiter(wtr, self)
	return 1
}

// WakeAll wakes every waiter.
func (b *Butex) WakeAll(self *TaskGroup) int {
	var list []*butexWaiter
	b.mu.Lock()
	for w := b.popLocked(); w != nil; w = b.popLocked() {
		list = append(list, w)
	}
	b.mu.Unlock()
	for _, w := range list {
		dispatchWaiter(w, self)
	}
	return len(list)
}

// interruptWaiter pulls m off this butex if it is still parked here and
// requeues it.  The caller has already raised m's interrupt flag.
func (b *Butex) interruptWaiter(m *TaskMeta, self *TaskGroup) bool {
	b.mu.Lock()
	wtr := m.currentWaiter.Load()
	if wtr == nil || wtr.b != b || !wtr.enqueued {
		b.mu.Unlock()
		return false
	}
	b.removeLocked(wtr)
	b.mu.Unlock()
	m.currentWaiter.CompareAndSwap(wtr, nil)
	wtr.c.readyToRunChoose(self, m)
	return true
}
