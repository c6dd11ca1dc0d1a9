// runner.go
//
// taskRunner is the trampoline every ltask body runs under: it invokes
// the entry, catches the exit sentinel, publishes the return value to
// joiners, advances the generation, and calls endingSched — which does
// not return until this context has been reassigned a new task.  One
// runner services every task its stack is ever given, mirroring how a
// reused stack re-enters the trampoline through its saved context.
//
// Exit(v) unwinds cooperatively: deferred functions between the raise
// point and the trampoline run as usual.  Anything else that reaches
// the trampoline as a panic is a broken worker and aborts; there is no
// safe recovery after a half-finished quantum.

package sched

import (
	"ltask/debug"
	"ltask/utils"
)

// exitSignal is the sentinel Exit throws.  Only taskRunner may swallow
// it; a user recover that eats it must re-panic or joiners hang.
type exitSignal struct{ value any }

// Exit terminates the calling ltask with an explicit return value,
// unwinding through deferred functions on the way out.
func Exit(value any) {
	panic(&exitSignal{value: value})
}

func fatalf(msg string) {
	debug.DropMessage("FATAL", msg)
	panic("sched: " + msg)
}

// callTask runs one entry function, mapping the exit sentinel to a
// return value.  The worker handle it passes down carries the
// rebindable group cell; after the call the cell holds the group the
// task last ran on.
func callTask(w *W, m *TaskMeta) (ret any) {
	defer func() {
		if r := recover(); r != nil {
			if es, ok := r.(*exitSignal); ok {
				ret = es.value
				return
			}
			debug.DropMessage("FATAL", "ltask "+utils.Utoa(uint64(m.tid))+" panicked")
			panic(r)
		}
	}()
	return m.fn(w, m.arg)
}

// releaseLastContext is the post-switch hook that retires a finished
// task: its stack (unless handed over or pthread-mode) goes back to the
// pool and the meta slot is recycled.  Runs on the incoming context —
// a stack cannot release itself while standing on it.
func releaseLastContext(g *TaskGroup, arg any) {
	m := arg.(*TaskMeta)
	if s := m.stack; s != nil && m.attr.Class != StackPthread {
		g.control.putStack(s)
	}
	m.stack = nil
	g.control.pool.recycle(m)
}

// finishTask publishes the exit: return value to joiners, generation
// bump, butex wake, control bookkeeping, release hook.  Then it picks
// the next task.  On return the group cell holds the (possibly new)
// group and curMeta the task this context must run next — or, for the
// main-stack chain, the main task itself.
func finishTask(pg **TaskGroup, m *TaskMeta, ret any) {
	g := *pg
	m.ret = ret
	// Record the exit value before the generation moves: joiners read
	// it under retMu keyed by generation, so even one that registers
	// after this exit still collects the value.
	gen := uint32(m.versionButex.Value())
	m.retMu.Lock()
	m.lastRet = ret
	m.lastRetGen = gen
	m.retMu.Unlock()
	m.versionButex.Add(1) // the generation advances exactly once, here
	m.versionButex.WakeAll(g)

	g.control.taskEnded(g.tag)
	g.setRemained(releaseLastContext, m)
	endingSched(pg)
}

// taskRunner is the goroutine body behind every owned stack.  The
// first activation arrives via unpark with the stack's owner already
// set and curMeta assigned.
func taskRunner(s *ContextualStack) {
	g := s.owner
	// The switch that activated a fresh stack left its hook for us, and
	// its recursion guard, which a resumed context would clear in schedTo.
	g.runRemained()
	g.schedRecursiveGuard--
	w := &W{g: g}
	for {
		m := w.g.curMeta
		ret := callTask(w, m)
		finishTask(&w.g, m, ret)
		// Reassigned: either the same stack was handed the next task
		// directly, or this context parked in endingSched and has just
		// been resumed with a new assignment.
	}
}

// taskRunnerInline chains pthread-mode tasks on the worker's main
// stack.  The post-switch hook was already consumed by the caller's
// schedTo, hence no drain here.  Returns when the dispatch loop's main
// task is current again.
func taskRunnerInline(pg **TaskGroup) {
	w := &W{g: *pg}
	for {
		m := w.g.curMeta
		ret := callTask(w, m)
		finishTask(&w.g, m, ret)
		g := w.g
		if g.curMeta.tid == g.mainTid {
			*pg = g
			return
		}
		// Another pthread-mode task landed on the main stack: run it.
	}
}
