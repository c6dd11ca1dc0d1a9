// stack.go
//
// ContextualStack is the unit a context switch moves between: a
// reusable runner goroutine, a one-slot resume channel, and an owner
// cell naming the TaskGroup currently driving the stack.  jumpStack
// publishes the owner, unparks the target, then parks the caller, so at
// most one stack per group is ever running and a stack resumed on a
// different worker (after a steal) finds its new group in the owner
// cell — this is the thread-local pointer of the original design,
// relocated to the one place a resumed context can always reach.
//
// A stack's goroutine is started lazily on first activation and runs
// taskRunner's service loop for every task the stack is ever assigned.
// Retiring a pooled stack sets the dead flag and unparks it; the parked
// context observes the flag and exits.
//
// Switching to an already-running stack is undefined behavior, as in
// any stackful switch primitive; the one-slot channel turns the worst
// case into a deadlock rather than corruption.

package sched

import (
	"runtime"
	"sync"

	"ltask/constants"
)

// ContextualStack carries one resumable execution context.
type ContextualStack struct {
	resume  chan struct{}
	owner   *TaskGroup // group driving the stack; rewritten before every unpark
	class   StackClass
	started bool
	dead    bool
}

func newStack(class StackClass) *ContextualStack {
	return &ContextualStack{
		resume: make(chan struct{}, 1),
		class:  class,
	}
}

// unpark hands the stack to g and lets its context run.
func (s *ContextualStack) unpark(g *TaskGroup) {
	s.owner = g
	if !s.started {
		s.started = true
		go taskRunner(s)
		return
	}
	s.resume <- struct{}{}
}

// park suspends the calling context until the stack is unparked again,
// returning the group that resumed it.
func (s *ContextualStack) park() *TaskGroup {
	<-s.resume
	if s.dead {
		runtime.Goexit()
	}
	return s.owner
}

// jumpStack switches from `from` to `to` on behalf of g.  It returns
// only when `from` is resumed, and reports the (possibly different)
// group driving it then.
func jumpStack(from, to *ContextualStack, g *TaskGroup) *TaskGroup {
	to.unpark(g)
	return from.park()
}

// ─────────────────────────── stack pools ───────────────────────────

// stackPool caches idle stacks of one class.  An idle stack's goroutine
// is parked inside its last jumpStack; reuse resumes it mid-service-
// loop, retirement kills it.
type stackPool struct {
	mu   sync.Mutex
	free []*ContextualStack
}

// get returns a cached stack or a fresh one.
func (p *stackPool) get(class StackClass) *ContextualStack {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s
	}
	p.mu.Unlock()
	return newStack(class)
}

// put parks a stack for reuse, or retires it when the pool is full.
func (p *stackPool) put(s *ContextualStack) {
	p.mu.Lock()
	if len(p.free) < constants.StackPoolCap {
		p.free = append(p.free, s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	retireStack(s)
}

// drain retires every cached stack; called at control shutdown.
func (p *stackPool) drain() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, s := range free {
		retireStack(s)
	}
}

// retireStack terminates a parked stack's goroutine.
func retireStack(s *ContextualStack) {
	s.dead = true
	if s.started {
		s.resume <- struct{}{}
	}
}
