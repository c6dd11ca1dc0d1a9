// mainloop.go
//
// runMainTask is the dispatch loop a worker thread lives in.  The loop
// itself runs as a synthesized ltask over the worker's main stack: it
// has a tid, it shows up in the accounting with the main bit set, and
// every other context eventually switches back into it when the group
// runs dry.

package sched

import (
	"ltask/debug"
	"ltask/utils"
)

// runMainTask is called once, from the group's dedicated OS thread.
func (g *TaskGroup) runMainTask() {
	g.osTid.Store(osTid())

	g.mainStack = newStack(StackPthread)
	g.mainStack.started = true // this thread is the stack's context
	g.mainStack.owner = g

	m, err := g.control.pool.alloc(Attr{Class: StackPthread, Tag: g.tag}, nil, nil)
	if err != nil {
		fatalf("main task meta allocation failed")
	}
	m.stack = g.mainStack
	m.cpuwideStartNs = cpuwideNowNs()
	g.mainTid = m.tid
	g.curMeta = m

	var st CPUTimeStat
	st.SetLastRunNs(cpuwideNowNs(), true)
	g.cpuTimeStat.Store(st)

	debug.DropMessage("WORKER", "dispatch loop up, os tid "+utils.Itoa(int(g.osTid.Load())))

	w := &W{g: g}
	var tid Tid
	for w.g.waitTask(&tid) {
		schedToTid(&w.g, tid)
		g = w.g
		if g.curMeta.tid != g.mainTid && g.curMeta.stack == g.mainStack {
			// A pthread-mode task landed on the main stack: run the
			// chain inline.  The hook was consumed by schedToTid.
			taskRunnerInline(&w.g)
			g = w.g
		}
	}

	// Close out the dispatch quantum so the group's last_run timestamp
	// stays monotone through shutdown reads.
	g = w.g
	now := cpuwideNowNs()
	st = g.cpuTimeStat.LoadRelaxed()
	if now < st.LastRunNs() {
		now = st.LastRunNs()
	}
	st.AddCumulatedNs(now-st.LastRunNs(), st.IsMainTask())
	st.SetLastRunNs(now, true)
	g.cpuTimeStat.Store(st)

	g.control.pool.recycle(m)
	debug.DropMessage("WORKER", "dispatch loop down, os tid "+utils.Itoa(int(g.osTid.Load())))
}
