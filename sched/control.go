// control.go
//
// TaskControl owns every TaskGroup: it spawns the workers, routes
// cross-worker wakeups through per-tag parking lots, coordinates
// stealing, and tears the pool down.  Groups hold borrowed
// back-references; peers touch each other only through the steal-safe
// queue surfaces, and group storage is reclaimed by the GC after
// deregistration, never deleted out from under a stealing peer.

package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"ltask/constants"
	"ltask/debug"
	"ltask/parking"
	"ltask/timerwheel"
	"ltask/utils"
)

// Options configures a control.
type Options struct {
	// WorkersPerTag: one entry per tag; entry i workers serve Tag(i).
	// Nil means one default-tag partition sized to GOMAXPROCS.
	WorkersPerTag []int
	// RunQueueCap is the local run queue capacity per worker.
	RunQueueCap int
	// PinWorkers pins each worker thread to a CPU (best effort).
	PinWorkers bool
	// StealCrossTag lets idle workers steal across tag boundaries.
	StealCrossTag bool
}

func (o *Options) withDefaults() Options {
	out := Options{RunQueueCap: constants.DefaultRunQueueCap}
	if o != nil {
		out = *o
	}
	if len(out.WorkersPerTag) == 0 {
		out.WorkersPerTag = []int{runtime.GOMAXPROCS(0)}
	}
	if len(out.WorkersPerTag) > constants.MaxTags {
		out.WorkersPerTag = out.WorkersPerTag[:constants.MaxTags]
	}
	if out.RunQueueCap <= 0 {
		out.RunQueueCap = constants.DefaultRunQueueCap
	}
	return out
}

// TaskControl is the global registry and lifecycle owner.
type TaskControl struct {
	opts Options

	pool  *metaPool
	wheel *timerwheel.Wheel

	stop atomic.Bool
	wg   sync.WaitGroup

	mu        sync.Mutex
	tagGroups [constants.MaxTags]atomic.Pointer[[]*TaskGroup]
	pls       [constants.MaxTags]parking.Lot

	stackPools [numStackClasses]stackPool

	chooseSeq atomic.Uint64
	nTasks    [constants.MaxTags]atomic.Int64

	started bool
}

// NewControl builds a control; Start spawns its workers.
func NewControl(opts *Options) *TaskControl {
	c := &TaskControl{
		opts:  opts.withDefaults(),
		pool:  newMetaPool(),
		wheel: timerwheel.New(),
	}
	empty := make([]*TaskGroup, 0)
	for i := range c.tagGroups {
		c.tagGroups[i].Store(&empty)
	}
	return c
}

// NumTags returns the number of configured tag partitions.
func (c *TaskControl) NumTags() int { return len(c.opts.WorkersPerTag) }

// Groups returns the current group snapshot of one tag; read-only.
func (c *TaskControl) Groups(tag Tag) []*TaskGroup {
	if int(tag) >= constants.MaxTags {
		return nil
	}
	return *c.tagGroups[tag].Load()
}

// TasksAlive counts started-but-not-exited ltasks of a tag.
func (c *TaskControl) TasksAlive(tag Tag) int64 {
	return c.nTasks[tag].Load()
}

func (c *TaskControl) taskStarted(tag Tag) { c.nTasks[tag].Add(1) }
func (c *TaskControl) taskEnded(tag Tag)   { c.nTasks[tag].Add(-1) }

func (c *TaskControl) stopped() bool { return c.stop.Load() }

func (c *TaskControl) parkingLot(tag Tag) *parking.Lot { return &c.pls[tag] }

// Start creates the groups and spawns one locked worker thread per
// group.  Groups are fully registered before Start returns, so remote
// producers have a routing target immediately.
func (c *TaskControl) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrInval
	}
	c.started = true
	c.mu.Unlock()

	workerIdx := 0
	for tagIdx, n := range c.opts.WorkersPerTag {
		tag := Tag(tagIdx)
		for i := 0; i < n; i++ {
			seed := utils.Mix64(uint64(workerIdx)*0x9E3779B97F4A7C15 + 1)
			g := newTaskGroup(c, tag, c.opts.RunQueueCap, seed)
			c.addGroup(g)
			c.wg.Add(1)
			go c.workerMain(g, workerIdx)
			workerIdx++
		}
	}
	return nil
}

// workerMain is the OS-thread body of one worker.
func (c *TaskControl) workerMain(g *TaskGroup, idx int) {
	runtime.LockOSThread()
	defer func() {
		runtime.UnlockOSThread()
		c.wg.Done()
	}()
	if c.opts.PinWorkers {
		setAffinity(idx)
	}
	g.runMainTask()
	g.destroySelf()
}

// Stop requests shutdown and waits for every worker to park out.
// Queued ltasks that never ran are abandoned; callers that need their
// results join them before stopping.
func (c *TaskControl) Stop() {
	if c.stop.Swap(true) {
		return
	}
	for i := range c.pls {
		c.pls[i].Stop()
	}
	c.wg.Wait()
	c.wheel.Stop()
	for i := range c.stackPools {
		c.stackPools[i].drain()
	}
	debug.DropMessage("SCHED", "control stopped")
}

// ─────────────────────── group registry ──────────────────────────

func (c *TaskControl) addGroup(g *TaskGroup) {
	c.mu.Lock()
	old := *c.tagGroups[g.tag].Load()
	next := make([]*TaskGroup, len(old)+1)
	copy(next, old)
	next[len(old)] = g
	c.tagGroups[g.tag].Store(&next)
	c.mu.Unlock()
}

func (c *TaskControl) removeGroup(g *TaskGroup) {
	c.mu.Lock()
	old := *c.tagGroups[g.tag].Load()
	next := make([]*TaskGroup, 0, len(old))
	for _, e := range old {
		if e != g {
			next = append(next, e)
		}
	}
	c.tagGroups[g.tag].Store(&next)
	c.mu.Unlock()
}

// chooseGroup picks a routing target for a tag, rotating so remote
// producers spread across the partition.
func (c *TaskControl) chooseGroup(tag Tag) *TaskGroup {
	groups := *c.tagGroups[tag].Load()
	if len(groups) == 0 {
		// Default-tag fallback keeps mis-tagged work runnable.
		groups = *c.tagGroups[TagDefault].Load()
		if len(groups) == 0 {
			fatalf("no groups registered")
		}
	}
	n := c.chooseSeq.Add(1)
	return groups[utils.Mix64(n)%uint64(len(groups))]
}

// readyToRunChoose requeues m: locally when the caller is a worker of
// the right tag, remotely onto a chosen group otherwise.
func (c *TaskControl) readyToRunChoose(self *TaskGroup, m *TaskMeta) {
	if self != nil && self.control == c && self.tag == m.attr.Tag {
		self.readyToRun(m, false)
		return
	}
	c.chooseGroup(m.attr.Tag).readyToRunRemote(m, false)
}

// ───────────────────────── signalling ────────────────────────────

// signalTask wakes up to num workers of a tag.  One parking-lot signal
// carries the whole multiplicity; the cap only bounds a pathological
// batch, it never splits a wake in two.
func (c *TaskControl) signalTask(num int, tag Tag) {
	if num <= 0 {
		return
	}
	if num > constants.MaxSignalBatch {
		num = constants.MaxSignalBatch
	}
	c.pls[tag].Signal(num)
}

// ───────────────────────── steal coordination ────────────────────

// stealTask walks a tag's peers starting at *seed with the caller's
// offset (1 when the offset shares a factor with the peer count), so
// every peer is visited once per rotation and
// different workers start at decorrelated positions.  Never touches a
// peer's main task: the main tid is never enqueued anywhere.
func (c *TaskControl) stealTask(tid *Tid, seed *uint64, offset uint64, tag Tag) bool {
	if c.stealFromTag(tid, seed, offset, tag) {
		return true
	}
	if !c.opts.StealCrossTag {
		return false
	}
	for t := 0; t < len(c.opts.WorkersPerTag); t++ {
		if Tag(t) == tag {
			continue
		}
		if c.stealFromTag(tid, seed, offset, Tag(t)) {
			return true
		}
	}
	return false
}

func (c *TaskControl) stealFromTag(tid *Tid, seed *uint64, offset uint64, tag Tag) bool {
	groups := *c.tagGroups[tag].Load()
	n := uint64(len(groups))
	if n == 0 {
		return false
	}
	// A step sharing a factor with n would cycle through a subset of
	// the peers; fall back to 1 so every peer is visited.
	step := offset
	a, b := step, n
	for b != 0 {
		a, b = b, a%b
	}
	if a != 1 {
		step = 1
	}
	s := *seed
	for i := uint64(0); i < n; i++ {
		g := groups[s%n]
		s += step
		if g == nil {
			continue
		}
		if t, ok := g.rq.StealTop(); ok {
			*seed = s
			*tid = Tid(t)
			return true
		}
		if t, ok := g.remoteRq.Pop(); ok {
			*seed = s
			*tid = Tid(t)
			return true
		}
	}
	*seed = s
	return false
}

// ───────────────────────── stack cache ───────────────────────────

func (c *TaskControl) getStack(class StackClass) *ContextualStack {
	return c.stackPools[class].get(class)
}

func (c *TaskControl) putStack(s *ContextualStack) {
	c.stackPools[s.class].put(s)
}
