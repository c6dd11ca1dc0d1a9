// api.go
//
// Public surface.  Two kinds of callers exist:
//
//   - ltask code, which holds a W — the rebindable worker handle passed
//     into every task body.  W.g is re-resolved after every suspension;
//     user code must go through the handle and never cache the group.
//   - external threads, which go through the TaskControl.
//
// All ids are primitive Tids and all errors errno-shaped, so nothing
// scheduler-internal crosses the boundary.

package sched

import "ltask/timerwheel"

// W is an ltask's scheduler context: a single rebindable cell holding
// the TaskGroup currently running the task.  Suspension primitives
// update it in place, which is how code observes that a steal moved it
// to another worker.
type W struct {
	g *TaskGroup
}

// Group returns the group currently running the caller.  The value is
// stale after any suspension point; re-call instead of caching.
func (w *W) Group() *TaskGroup { return w.g }

// Control returns the owning control (stable for the process life).
func (w *W) Control() *TaskControl { return w.g.control }

// CurrentTid returns the running ltask's id.
func (w *W) CurrentTid() Tid { return w.g.curMeta.tid }

// CurrentUptimeNs returns time since the running ltask was created.
func (w *W) CurrentUptimeNs() int64 {
	return cpuwideNowNs() - w.g.curMeta.cpuwideStartNs
}

// IsMainTask reports whether the caller is the dispatch-loop ltask.
func (w *W) IsMainTask() bool { return w.g.curMeta.tid == w.g.mainTid }

// IsPthreadTask reports whether the caller runs on the worker's main
// stack (pthread mode).
func (w *W) IsPthreadTask() bool { return w.g.curMeta.stack == w.g.mainStack }

// CurrentTaskCPUClockNs returns the running task's accumulated thread
// CPU time, 0 when its attr did not enable the clock.
func (w *W) CurrentTaskCPUClockNs() int64 {
	g := w.g
	if g.lastCPUClockNs == 0 {
		return 0
	}
	return g.curMeta.stat.CPUUsageNs + cpuThreadTimeNs() - g.lastCPUClockNs
}

func (w *W) attrOrDefault(attr *Attr) (Attr, error) {
	a := Attr{Class: StackNormal, Tag: w.g.tag}
	if attr != nil {
		a = *attr
	}
	if int(a.Tag) >= w.g.control.NumTags() || a.Tag < 0 ||
		a.Class < StackSmall || a.Class > StackPthread {
		return a, ErrInval
	}
	return a, nil
}

// StartForeground creates an ltask and switches to it at once; the
// caller is requeued and resumes later.  From a pthread-mode context
// the newcomer is queued instead (no stack to switch away from).
func (w *W) StartForeground(attr *Attr, fn TaskFn, arg any) (Tid, error) {
	a, err := w.attrOrDefault(attr)
	if err != nil {
		return InvalidTid, err
	}
	g := w.g
	m, err := g.control.pool.alloc(a, fn, arg)
	if err != nil {
		return InvalidTid, err
	}
	m.cpuwideStartNs = cpuwideNowNs()
	g.control.taskStarted(a.Tag)
	tid := m.tid
	if a.Tag != g.tag {
		g.control.chooseGroup(a.Tag).readyToRunRemote(m, a.NoSignal)
		return tid, nil
	}
	exchange(&w.g, m)
	return tid, nil
}

// StartBackground creates an ltask and queues it locally; the caller
// keeps running.
func (w *W) StartBackground(attr *Attr, fn TaskFn, arg any) (Tid, error) {
	a, err := w.attrOrDefault(attr)
	if err != nil {
		return InvalidTid, err
	}
	g := w.g
	m, err := g.control.pool.alloc(a, fn, arg)
	if err != nil {
		return InvalidTid, err
	}
	m.cpuwideStartNs = cpuwideNowNs()
	g.control.taskStarted(a.Tag)
	tid := m.tid
	if a.Tag != g.tag {
		g.control.chooseGroup(a.Tag).readyToRunRemote(m, a.NoSignal)
		return tid, nil
	}
	g.readyToRun(m, a.NoSignal)
	return tid, nil
}

// Yield requeues the caller and runs somebody else.  In pthread mode
// there is nobody to switch to on this stack; it is a no-op beyond a
// scheduling hint.
func (w *W) Yield() {
	if w.IsPthreadTask() {
		return
	}
	yield(&w.g)
}

// Usleep suspends the caller for at least us microseconds.  The worker
// keeps dispatching other ltasks meanwhile.  Returns ErrStop when the
// stop flag is observed on wakeup, ErrIntr when interrupted.
func (w *W) Usleep(us uint64) error {
	return usleep(&w.g, us)
}

// Join suspends the caller until tid terminates and copies its return
// value into ret (when non-nil).  Joining a terminated or stale tid
// succeeds immediately; joining self is an error.
func (w *W) Join(tid Tid, ret *any) error {
	if tid == InvalidTid {
		return ErrInval
	}
	g := w.g
	if g.curMeta.tid == tid {
		return ErrInval
	}
	c := g.control
	m := c.pool.address(tid)
	if m != nil {
		b := m.versionButex
		expected := int32(tidVersion(tid))
		for b.Value() == expected {
			if err := b.waitLtask(w, expected, 0); err == ErrAgain {
				break
			}
			// nil / ErrIntr / ErrStop: the generation check above
			// decides whether to park again; joins ride out interrupts.
		}
	}
	if ret != nil {
		*ret = w.g.control.pool.exitValue(tid)
	}
	return nil
}

// FlushNoSignalTasks wakes workers for every locally deferred push.
func (w *W) FlushNoSignalTasks() { w.g.flushNosignalTasks() }

// FlushNoSignalTasksGeneral coalesces local and remote deferred pushes
// into one wake of summed multiplicity.
func (w *W) FlushNoSignalTasksGeneral() { w.g.flushNosignalGeneral() }

// Interrupt wakes tid out of whatever it blocks on; see
// TaskControl.Interrupt.
func (w *W) Interrupt(tid Tid) error {
	return interruptImpl(tid, w.g.control, w.g)
}

// ───────────────────────── control surface ───────────────────────

// StartBackground creates an ltask from a non-worker thread; it lands
// on a chosen group's remote queue.
func (c *TaskControl) StartBackground(attr *Attr, fn TaskFn, arg any) (Tid, error) {
	a := AttrDefault
	if attr != nil {
		a = *attr
	}
	if int(a.Tag) >= c.NumTags() || a.Tag < 0 ||
		a.Class < StackSmall || a.Class > StackPthread {
		return InvalidTid, ErrInval
	}
	m, err := c.pool.alloc(a, fn, arg)
	if err != nil {
		return InvalidTid, err
	}
	m.cpuwideStartNs = cpuwideNowNs()
	c.taskStarted(a.Tag)
	tid := m.tid
	c.chooseGroup(a.Tag).readyToRunRemote(m, a.NoSignal)
	return tid, nil
}

// Join blocks the calling thread until tid terminates; see W.Join for
// the value contract.
func (c *TaskControl) Join(tid Tid, ret *any) error {
	if tid == InvalidTid {
		return ErrInval
	}
	m := c.pool.address(tid)
	if m != nil {
		b := m.versionButex
		expected := int32(tidVersion(tid))
		for b.Value() == expected {
			if err := b.waitExternal(expected); err == ErrAgain {
				break
			}
		}
	}
	if ret != nil {
		*ret = c.pool.exitValue(tid)
	}
	return nil
}

// Exists reports whether tid still names a live generation.  The
// answer is only true for the instant it was computed; never guard a
// wait with it.
func (c *TaskControl) Exists(tid Tid) bool {
	return c.pool.address(tid) != nil
}

// GetAttr copies the creation attributes of tid.
func (c *TaskControl) GetAttr(tid Tid) (Attr, error) {
	m := c.pool.address(tid)
	if m == nil {
		return Attr{}, ErrNoSuch
	}
	return m.attr, nil
}

// SetStopped raises tid's advisory stop flag.  Blocking primitives
// observe it on their next wakeup; nothing is preempted.
func (c *TaskControl) SetStopped(tid Tid) {
	if m := c.pool.address(tid); m != nil {
		m.setStopped()
	}
}

// IsStopped reads tid's stop flag; false for stale generations.
func (c *TaskControl) IsStopped(tid Tid) bool {
	m := c.pool.address(tid)
	return m != nil && m.isStopped()
}

// Interrupt wakes tid out of a butex wait or usleep.  The flag is
// sticky until a blocking primitive consumes it, so interrupting a task
// that is not currently blocked still succeeds.
func (c *TaskControl) Interrupt(tid Tid) error {
	return interruptImpl(tid, c, nil)
}

func interruptImpl(tid Tid, c *TaskControl, self *TaskGroup) error {
	m := c.pool.address(tid)
	if m == nil {
		return nil // stale id: noop-success by contract
	}
	m.interrupted.Store(true)
	if wtr := m.currentWaiter.Load(); wtr != nil {
		wtr.b.interruptWaiter(m, self)
		return nil
	}
	if h := m.sleepTimer.Load(); h != 0 {
		if c.wheel.Unschedule(timerwheel.Handle(h)) {
			m.sleepTimer.Store(0)
			c.readyToRunChoose(self, m)
		}
	}
	return nil
}
