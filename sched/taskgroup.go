// taskgroup.go
//
// TaskGroup is the per-worker scheduler: it owns the local run queue,
// drains the remote queue, steals from peers, performs the context
// switches, and keeps the group's CPU accounting in a single 128-bit
// cell.  One OS thread runs runMainTask for the group's lifetime.
//
// Functions that can suspend take pg **TaskGroup and re-resolve the
// group after every switch: a stolen ltask resumes on a different
// worker, so any cached group pointer is stale the moment a switch
// happens.  The incoming context finds its new group in its stack's
// owner cell and writes it back through pg.

package sched

import (
	"sync/atomic"
	"time"

	"ltask/constants"
	"ltask/parking"
	"ltask/runq"
	"ltask/utils"
)

// remainedFn is a post-switch hook: one shot, runs on the incoming
// context before it resumes user code, must not suspend.
type remainedFn func(g *TaskGroup, arg any)

// TaskGroup multiplexes ltasks on one worker.
type TaskGroup struct {
	// Owner-only hot fields.  The stealer-facing structures (local rq
	// indices, cpu_time_stat, remote queue) carry their own cache-line
	// padding so these plain fields never share a line with them.
	curMeta        *TaskMeta
	control        *TaskControl
	numNosignal    int
	nsignaled      int
	lastCPUClockNs int64
	// nswitch is owner-incremented but read by the trace sampler, so it
	// is atomic despite being metric-only.
	nswitch atomic.Uint64

	remained    remainedFn
	remainedArg any

	cpuTimeStat atomicCPUTimeStat // internally padded

	pl          *parking.Lot
	lastPlState int32

	stealSeed   uint64
	stealOffset uint64

	mainStack *ContextualStack
	mainTid   Tid

	rq       *runq.Local
	remoteRq *runq.Remote
	// Remote-side nosignal counters are guarded by remoteRq's mutex.
	remoteNumNosignal int
	remoteNsignaled   int

	schedRecursiveGuard int32

	tag   Tag
	osTid atomic.Int32 // published by the worker thread before dispatch
}

func newTaskGroup(c *TaskControl, tag Tag, rqCap int, seed uint64) *TaskGroup {
	g := &TaskGroup{
		control:     c,
		tag:         tag,
		stealSeed:   seed,
		stealOffset: primeOffset(seed),
		pl:          c.parkingLot(tag),
		rq:          runq.NewLocal(rqCap),
		remoteRq:    runq.NewRemote(constants.RemoteQueueCap),
	}
	return g
}

// primeOffset picks a prime steal rotation step.  stealFromTag uses it
// when it is co-prime with the peer count and steps by 1 otherwise, so
// the rotation visits every peer.
var primeOffsets = [...]uint64{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61,
}

func primeOffset(seed uint64) uint64 {
	return primeOffsets[utils.Mix64(seed)%uint64(len(primeOffsets))]
}

// ───────────────────────── introspection ─────────────────────────

// Tag returns the group's affinity label.
func (g *TaskGroup) Tag() Tag { return g.tag }

// OSTid returns the worker's kernel thread id, 0 before the worker ran.
func (g *TaskGroup) OSTid() int32 { return g.osTid.Load() }

// MainTid returns the id of the synthesized main ltask.
func (g *TaskGroup) MainTid() Tid { return g.mainTid }

// NSwitch returns the switch counter; metrics only.
func (g *TaskGroup) NSwitch() uint64 { return g.nswitch.Load() }

// RqSize returns the local run queue's size estimate.
func (g *TaskGroup) RqSize() int { return g.rq.Size() }

// RemoteSize returns the remote queue's current depth.
func (g *TaskGroup) RemoteSize() int { return g.remoteRq.Size() }

// CumulatedCputimeNs returns the group's accumulated non-main CPU time.
// Safe from any thread.
func (g *TaskGroup) CumulatedCputimeNs() int64 {
	return g.cpuTimeStat.Load().CumulatedNs()
}

// LastRunNs returns the group's last scheduling timestamp.  Safe from
// any thread; paired atomically with CumulatedCputimeNs via
// CPUTimeSnapshot.
func (g *TaskGroup) LastRunNs() int64 {
	return g.cpuTimeStat.Load().LastRunNs()
}

// CPUTimeSnapshot returns (last_run_ns, is_main, cumulated_ns) from one
// 128-bit load.
func (g *TaskGroup) CPUTimeSnapshot() (int64, bool, int64) {
	s := g.cpuTimeStat.Load()
	return s.LastRunNs(), s.IsMainTask(), s.CumulatedNs()
}

func (g *TaskGroup) isMainTask(tid Tid) bool { return tid == g.mainTid }

// setRemained installs the one-shot post-switch hook.  It will run on
// the next context activated in this group, then the slot clears.
func (g *TaskGroup) setRemained(fn remainedFn, arg any) {
	g.remained = fn
	g.remainedArg = arg
}

// runRemained drains the hook slot; g may be rebound by a caller that
// keeps scheduling, so hooks receive the group explicitly.
func (g *TaskGroup) runRemained() {
	for g.remained != nil {
		fn, arg := g.remained, g.remainedArg
		g.remained, g.remainedArg = nil, nil
		fn(g, arg)
	}
}

// ───────────────────────── ready-to-run ──────────────────────────

// readyToRun pushes a task onto the local queue.  Owning worker only.
// nosignal defers the parking-lot wake until a flush.
func (g *TaskGroup) readyToRun(m *TaskMeta, nosignal bool) {
	g.pushRq(m.tid)
	if nosignal {
		g.numNosignal++
		return
	}
	additional := g.numNosignal
	g.numNosignal = 0
	g.nsignaled += 1 + additional
	g.control.signalTask(1+additional, g.tag)
}

// flushNosignalTasks converts deferred local pushes into one wake.
func (g *TaskGroup) flushNosignalTasks() {
	if val := g.numNosignal; val > 0 {
		g.numNosignal = 0
		g.nsignaled += val
		g.control.signalTask(val, g.tag)
	}
}

// pushRq inserts into the local queue, backing off while it is full.
// The queue is never dropped: losing a tid leaks its stack and strands
// its joiners, so this loop runs as long as it takes.
func (g *TaskGroup) pushRq(tid Tid) {
	backoff := constants.PushBackoffMinUs
	for !g.rq.PushBottom(uint64(tid)) {
		// Give stealers a chance to observe the queued work.
		g.flushNosignalTasks()
		time.Sleep(time.Duration(backoff) * time.Microsecond)
		if backoff *= 2; backoff > constants.PushBackoffMaxUs {
			backoff = constants.PushBackoffMaxUs
		}
	}
}

// readyToRunRemote pushes from an off-worker thread.  Overflow flushes
// deferred signals (so consumers wake and drain) and retries; the push
// never drops.
func (g *TaskGroup) readyToRunRemote(m *TaskMeta, nosignal bool) {
	backoff := constants.PushBackoffMinUs
	g.remoteRq.Lock()
	for !g.remoteRq.PushLocked(uint64(m.tid)) {
		g.flushNosignalRemoteLocked()
		g.remoteRq.Unlock()
		time.Sleep(time.Duration(backoff) * time.Microsecond)
		if backoff *= 2; backoff > constants.PushBackoffMaxUs {
			backoff = constants.PushBackoffMaxUs
		}
		g.remoteRq.Lock()
	}
	if nosignal {
		g.remoteNumNosignal++
		g.remoteRq.Unlock()
		return
	}
	additional := g.remoteNumNosignal
	g.remoteNumNosignal = 0
	g.remoteNsignaled += 1 + additional
	g.remoteRq.Unlock()
	g.control.signalTask(1+additional, g.tag)
}

// flushNosignalRemoteLocked moves the deferred remote count into the
// signalled count and wakes.  Caller holds the remote queue mutex.
func (g *TaskGroup) flushNosignalRemoteLocked() {
	if val := g.remoteNumNosignal; val > 0 {
		g.remoteNumNosignal = 0
		g.remoteNsignaled += val
		g.control.signalTask(val, g.tag)
	}
}

// flushNosignalRemote is the unlocked entry.
func (g *TaskGroup) flushNosignalRemote() {
	g.remoteRq.Lock()
	g.flushNosignalRemoteLocked()
	g.remoteRq.Unlock()
}

// flushNosignalGeneral coalesces both deferred counters into a single
// wake of summed multiplicity.
func (g *TaskGroup) flushNosignalGeneral() {
	total := 0
	if val := g.numNosignal; val > 0 {
		g.numNosignal = 0
		g.nsignaled += val
		total += val
	}
	g.remoteRq.Lock()
	if val := g.remoteNumNosignal; val > 0 {
		g.remoteNumNosignal = 0
		g.remoteNsignaled += val
		total += val
	}
	g.remoteRq.Unlock()
	if total > 0 {
		g.control.signalTask(total, g.tag)
	}
}

// ─────────────────────────── stealing ────────────────────────────

// stealTask drains the own remote queue first (cheaper, keeps
// locality), then rotates over peers through the control.
func (g *TaskGroup) stealTask(tid *Tid) bool {
	if t, ok := g.remoteRq.Pop(); ok {
		*tid = Tid(t)
		return true
	}
	// Refresh the parking epoch: a signal between the remote check and
	// the peer walk must not be lost when the caller parks.
	g.lastPlState = g.pl.State()
	return g.control.stealTask(tid, &g.stealSeed, g.stealOffset, g.tag)
}

// waitTask blocks until work arrives or the control stops.
func (g *TaskGroup) waitTask(tid *Tid) bool {
	for {
		if g.control.stopped() {
			return false
		}
		g.lastPlState = g.pl.State()
		if t, ok := g.rq.PopBottom(); ok {
			*tid = Tid(t)
			return true
		}
		if g.stealTask(tid) {
			return true
		}
		// The epoch was captured before the queue checks: any push that
		// signalled since advances it and this wait returns at once.
		g.pl.Wait(g.lastPlState)
	}
}

// ─────────────────────── switching machinery ─────────────────────

// sched picks the next runnable task (local, then steal, then the main
// task) and switches to it.
func sched(pg **TaskGroup) {
	g := *pg
	nextTid := g.mainTid
	if t, ok := g.rq.PopBottom(); ok {
		nextTid = Tid(t)
	} else if !g.stealTask(&nextTid) {
		nextTid = g.mainTid
	}
	schedToTid(pg, nextTid)
}

// schedToTid resolves the target and ensures it has a stack before the
// switch.  Freshly scheduled pthread-mode tasks borrow the worker's
// main stack and run inline.
func schedToTid(pg **TaskGroup, nextTid Tid) {
	g := *pg
	next := g.control.pool.address(nextTid)
	if next == nil {
		fatalf("sched_to: tid has no meta")
	}
	if next.stack == nil {
		if next.attr.Class == StackPthread {
			next.stack = g.mainStack
		} else {
			next.stack = g.control.getStack(next.attr.Class)
		}
	}
	schedTo(pg, next, false)
}

// schedTo is the switch itself: accounting store, cur_meta update,
// stack jump, post-switch hooks, group re-binding.
func schedTo(pg **TaskGroup, next *TaskMeta, curEnding bool) {
	g := *pg
	if g.schedRecursiveGuard++; g.schedRecursiveGuard > 1 {
		fatalf("recursive sched_to")
	}

	cur := g.curMeta
	now := cpuwideNowNs()
	st := g.cpuTimeStat.LoadRelaxed()
	if now < st.LastRunNs() {
		// The wall clock stepped back; accounting stays monotone.
		now = st.LastRunNs()
	}
	elp := now - st.LastRunNs()
	st.AddCumulatedNs(elp, st.IsMainTask())
	st.SetLastRunNs(now, g.isMainTask(next.tid))
	g.cpuTimeStat.Store(st)

	cur.stat.CPUTimeNs += elp
	cur.stat.NSwitched++
	g.nswitch.Add(1)

	if g.lastCPUClockNs != 0 {
		cur.stat.CPUUsageNs += cpuThreadTimeNs() - g.lastCPUClockNs
	}
	if next.attr.CPUClock {
		g.lastCPUClockNs = cpuThreadTimeNs()
	} else {
		g.lastCPUClockNs = 0
	}

	if next != cur {
		g.curMeta = next
		if cur.stack != nil && next.stack != cur.stack {
			g = jumpStack(cur.stack, next.stack, g)
			// Running again, possibly on another worker.
		}
	}

	g.runRemained()
	g.schedRecursiveGuard--
	*pg = g
}

// endingSched runs when the current task terminated: pick the next one,
// reusing the dying task's stack directly when classes match so the
// successor skips the pool round-trip.
func endingSched(pg **TaskGroup) {
	g := *pg
	nextTid := g.mainTid
	if t, ok := g.rq.PopBottom(); ok {
		nextTid = Tid(t)
	} else if !g.stealTask(&nextTid) {
		nextTid = g.mainTid
	}
	cur := g.curMeta
	next := g.control.pool.address(nextTid)
	if next == nil {
		fatalf("ending_sched: tid has no meta")
	}
	if next.stack == nil {
		if next.attr.Class == cur.attr.Class && cur.attr.Class != StackPthread {
			// Hand the dying task's stack straight over; the release
			// hook then only frees the meta.
			next.stack = cur.stack
			cur.stack = nil
		} else if next.attr.Class == StackPthread {
			next.stack = g.mainStack
		} else {
			next.stack = g.control.getStack(next.attr.Class)
		}
	}
	schedTo(pg, next, true)
}

// ───────────────────────────── yield ─────────────────────────────

type readyToRunArgs struct {
	meta     *TaskMeta
	nosignal bool
}

// readyToRunInWorker is the post-switch hook that requeues the task
// that just yielded, after its stack is safe to touch.
func readyToRunInWorker(g *TaskGroup, arg any) {
	a := arg.(*readyToRunArgs)
	g.readyToRun(a.meta, a.nosignal)
}

// yield requeues the caller and runs somebody else (at minimum the
// main task).
func yield(pg **TaskGroup) {
	g := *pg
	args := readyToRunArgs{meta: g.curMeta}
	g.setRemained(readyToRunInWorker, &args)
	sched(pg)
}

// exchange switches to next immediately and requeues the caller via the
// hook; the start-foreground fast path.  pthread-mode callers cannot
// switch, they just queue the newcomer.
func exchange(pg **TaskGroup, next *TaskMeta) {
	g := *pg
	if g.curMeta.stack == g.mainStack {
		g.readyToRun(next, false)
		return
	}
	args := readyToRunArgs{meta: g.curMeta}
	g.setRemained(readyToRunInWorker, &args)
	schedToTid(pg, next.tid)
}

// ───────────────────────────── usleep ────────────────────────────

type sleepArgs struct {
	meta     *TaskMeta
	c        *TaskControl
	deadline int64
}

// addSleepEvent completes the timer registration after the sleeper is
// off every runnable list.  Registering before the switch would let the
// expiry requeue a task whose stack is still live here.
func addSleepEvent(g *TaskGroup, arg any) {
	e := arg.(*sleepArgs)
	h, ok := e.c.wheel.Schedule(e.deadline, sleepTimerFired, e)
	if !ok {
		// Timer arena exhausted: degrade to an immediate requeue
		// rather than losing the task.
		g.readyToRun(e.meta, false)
		return
	}
	e.meta.sleepTimer.Store(uint32(h))
}

// sleepTimerFired runs on the wheel thread.
func sleepTimerFired(arg any) {
	e := arg.(*sleepArgs)
	e.meta.sleepTimer.Store(0)
	e.c.readyToRunChoose(nil, e.meta)
}

// usleep suspends the caller for at least timeoutUs microseconds.
// Zero does nothing.  Returns ErrStop when the stop flag is observed on
// wakeup, ErrIntr when interrupted.
func usleep(pg **TaskGroup, timeoutUs uint64) error {
	if timeoutUs == 0 {
		return nil
	}
	g := *pg
	m := g.curMeta
	if m.stack == g.mainStack {
		// pthread-mode: plain thread sleep, same cancellation checks.
		time.Sleep(time.Duration(timeoutUs) * time.Microsecond)
		if m.interrupted.Swap(false) || m.isStopped() {
			if m.isStopped() {
				return ErrStop
			}
			return ErrIntr
		}
		return nil
	}
	e := &sleepArgs{
		meta:     m,
		c:        g.control,
		deadline: g.control.wheel.Now() + int64(timeoutUs)*1000,
	}
	g.setRemained(addSleepEvent, e)
	sched(pg)
	g = *pg

	m.sleepTimer.Store(0)
	if m.interrupted.Swap(false) {
		if m.isStopped() {
			return ErrStop
		}
		return ErrIntr
	}
	if m.isStopped() {
		return ErrStop
	}
	return nil
}

// ────────────────────────── destruction ──────────────────────────

// destroySelf unregisters the group.  The object itself is reclaimed
// by the garbage collector once the last stealing peer drops its
// pointer; direct deletion is not a thing here, by the same
// no-delete-before-drain rule the original enforces with deferred
// deletion.
func (g *TaskGroup) destroySelf() {
	g.control.removeGroup(g)
}
