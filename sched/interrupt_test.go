// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🧪 TEST SUITE: CANCELLATION, INTERRUPTION, POST-SWITCH HOOK
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: stop flag visibility, interrupt of sleepers and butex
//            waiters, sticky-flag semantics, hook exactly-once
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestInterruptUsleep wakes a long sleeper early with ErrIntr.
func TestInterruptUsleep(t *testing.T) {
	c := startControl(t, []int{1})

	entered := make(chan Tid, 1)
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
		entered <- w.CurrentTid()
		start := time.Now()
		err := w.Usleep(5_000_000) // 5s
		if time.Since(start) > 3*time.Second {
			return "interrupt did not shorten the sleep"
		}
		return err
	}, nil)

	sleeperTid := <-entered
	time.Sleep(50 * time.Millisecond) // let it actually park in the wheel
	if err := c.Interrupt(sleeperTid); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	var ret any
	if err := c.Join(tid, &ret); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ret != ErrIntr {
		t.Fatalf("usleep returned %v, want ErrIntr", ret)
	}
}

// TestSetStoppedUsleep: a stopped sleeper reports ErrStop on wakeup, as
// the cancellation-on-wakeup contract specifies.
func TestSetStoppedUsleep(t *testing.T) {
	c := startControl(t, []int{1})

	entered := make(chan Tid, 1)
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
		entered <- w.CurrentTid()
		return w.Usleep(5_000_000)
	}, nil)

	sleeperTid := <-entered
	time.Sleep(50 * time.Millisecond)
	c.SetStopped(sleeperTid)
	if !c.IsStopped(sleeperTid) {
		t.Fatal("stop flag not visible after SetStopped returned")
	}
	c.Interrupt(sleeperTid)

	var ret any
	c.Join(tid, &ret)
	if ret != ErrStop {
		t.Fatalf("usleep returned %v, want ErrStop", ret)
	}
}

// TestStopFlagVisibilityAcrossGenerations: the flag reads true until
// the generation advances, then false.
func TestStopFlagVisibilityAcrossGenerations(t *testing.T) {
	c := startControl(t, []int{1})

	release := make(chan struct{})
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
		<-release
		return nil
	}, nil)

	c.SetStopped(tid)
	if !c.IsStopped(tid) {
		t.Fatal("IsStopped false right after SetStopped")
	}
	close(release)
	c.Join(tid, nil)
	if c.IsStopped(tid) {
		t.Fatal("IsStopped true after the generation advanced")
	}
}

// TestInterruptStickyFlag: interrupting a task that is not blocked
// succeeds, and the next blocking call consumes the flag.
func TestInterruptStickyFlag(t *testing.T) {
	c := startControl(t, []int{1})

	interrupted := make(chan struct{})
	entered := make(chan Tid, 1)
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
		entered <- w.CurrentTid()
		<-interrupted // flag is raised while we are busy, not blocked
		first := w.Usleep(10_000)
		second := w.Usleep(1_000)
		return [2]error{asErr(first), asErr(second)}
	}, nil)

	if err := c.Interrupt(<-entered); err != nil {
		t.Fatalf("interrupt of a running task: %v", err)
	}
	close(interrupted)

	var ret any
	c.Join(tid, &ret)
	errs := ret.([2]error)
	if errs[0] != ErrIntr {
		t.Fatalf("first sleep returned %v, want ErrIntr (sticky flag)", errs[0])
	}
	if errs[1] != nil {
		t.Fatalf("second sleep returned %v, want nil (flag consumed)", errs[1])
	}
}

func asErr(e error) error { return e }

// TestInterruptStaleTidIsNoop: interrupting a dead generation succeeds
// without touching anything.
func TestInterruptStaleTidIsNoop(t *testing.T) {
	c := startControl(t, []int{1})
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any { return nil }, nil)
	c.Join(tid, nil)
	if err := c.Interrupt(tid); err != nil {
		t.Fatalf("interrupt of stale tid = %v, want nil", err)
	}
}

// TestInterruptJoiner pulls an ltask out of a butex wait (its join) and
// checks it rides the interrupt out by parking again until the target
// really exits.
func TestInterruptJoiner(t *testing.T) {
	c := startControl(t, []int{2})

	joinerEntered := make(chan Tid, 1)
	release := make(chan struct{})

	target, _ := c.StartBackground(nil, func(w *W, _ any) any {
		<-release
		return "done"
	}, nil)

	joiner, _ := c.StartBackground(nil, func(w *W, _ any) any {
		joinerEntered <- w.CurrentTid()
		var ret any
		if err := w.Join(target, &ret); err != nil {
			return err
		}
		return ret
	}, nil)

	jt := <-joinerEntered
	time.Sleep(50 * time.Millisecond) // joiner parks on the version butex
	c.Interrupt(jt)                   // kicks it; join must re-park
	time.Sleep(50 * time.Millisecond)
	close(release)

	var ret any
	if err := c.Join(joiner, &ret); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ret != "done" {
		t.Fatalf("joiner saw %v, want done", ret)
	}
}

// TestPostSwitchHookExactlyOnce installs a counting hook and suspends:
// the hook must run exactly once, on the next context, and the slot
// must be clear when the task resumes.
func TestPostSwitchHookExactlyOnce(t *testing.T) {
	c := startControl(t, []int{1})

	var hookRuns atomic.Int32
	tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
		g := w.g
		g.setRemained(func(g *TaskGroup, arg any) {
			hookRuns.Add(1)
			g.readyToRun(arg.(*TaskMeta), false)
		}, g.curMeta)
		sched(&w.g)
		// Resumed: the hook ran once and the slot is empty again.
		if n := hookRuns.Load(); n != 1 {
			return n
		}
		if w.g.remained != nil {
			return "hook slot not cleared"
		}
		return nil
	}, nil)

	var ret any
	if err := c.Join(tid, &ret); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ret != nil {
		t.Fatalf("hook invariant violated: %v", ret)
	}
}
