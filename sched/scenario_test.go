// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🧪 TEST SUITE: END-TO-END SCHEDULING SCENARIOS
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Yield ping-pong, remote FIFO, stealing, sleep overlap,
//            accounting monotonicity, no-double-run
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/sha3"
)

// TestYieldPingPong: two ltasks in one group yield back and forth; both
// complete, the group's switch counter reflects every hop, and the
// cumulated CPU accounting is non-zero.
func TestYieldPingPong(t *testing.T) {
	const yields = 10000
	c := startControl(t, []int{1})

	body := func(w *W, _ any) any {
		for i := 0; i < yields; i++ {
			w.Yield()
		}
		return nil
	}
	a, _ := c.StartBackground(nil, body, nil)
	b, _ := c.StartBackground(nil, body, nil)
	c.Join(a, nil)
	c.Join(b, nil)

	var nswitch uint64
	var cumulated int64
	for _, g := range c.Groups(TagDefault) {
		nswitch += g.NSwitch()
		cumulated += g.CumulatedCputimeNs()
	}
	if nswitch < 2*yields {
		t.Fatalf("nswitch = %d, want >= %d", nswitch, 2*yields)
	}
	if cumulated <= 0 {
		t.Fatalf("cumulated cputime = %d, want > 0", cumulated)
	}
}

// TestRemoteSpawnFIFO: with one worker, externally spawned ltasks are
// observed in remote-push order.
func TestRemoteSpawnFIFO(t *testing.T) {
	const n = 1000
	c := startControl(t, []int{1})

	var mu sync.Mutex
	var got []int
	tids := make([]Tid, 0, n)
	for i := 0; i < n; i++ {
		tid, err := c.StartBackground(nil, func(w *W, arg any) any {
			mu.Lock()
			got = append(got, arg.(int))
			mu.Unlock()
			return nil
		}, i)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		tids = append(tids, tid)
	}
	for _, tid := range tids {
		c.Join(tid, nil)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("ran %d tasks, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran task %d: remote order broken", i, v)
		}
	}
}

// TestNoDoubleRun: every spawned tid executes exactly once no matter
// which worker ends up running it.
func TestNoDoubleRun(t *testing.T) {
	const n = 2000
	c := startControl(t, []int{4})

	counts := make([]atomic.Int32, n)
	tids := make([]Tid, 0, n)
	for i := 0; i < n; i++ {
		tid, err := c.StartBackground(nil, func(w *W, arg any) any {
			counts[arg.(int)].Add(1)
			return nil
		}, i)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		tids = append(tids, tid)
	}
	for _, tid := range tids {
		c.Join(tid, nil)
	}
	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Fatalf("task %d ran %d times, want exactly 1", i, got)
		}
	}
}

// TestStealDistribution seeds one worker's local queue with deferred
// (nosignal) pushes, then releases one coalesced wake: idle peers must
// steal part of the backlog, and every task still runs exactly once.
func TestStealDistribution(t *testing.T) {
	const n = 3000
	c := startControl(t, []int{4})

	var mu sync.Mutex
	perGroup := make(map[*TaskGroup]int)
	counts := make([]atomic.Int32, n)

	seeder, err := c.StartBackground(nil, func(w *W, _ any) any {
		attr := Attr{Class: StackNormal, Tag: w.Group().Tag(), NoSignal: true}
		tids := make([]Tid, 0, n)
		for i := 0; i < n; i++ {
			tid, err := w.StartBackground(&attr, func(w *W, arg any) any {
				counts[arg.(int)].Add(1)
				g := w.Group()
				mu.Lock()
				perGroup[g]++
				mu.Unlock()
				return nil
			}, i)
			if err != nil {
				return err
			}
			tids = append(tids, tid)
		}
		// One wake of summed multiplicity releases the backlog.
		w.FlushNoSignalTasksGeneral()
		for _, tid := range tids {
			if err := w.Join(tid, nil); err != nil {
				return err
			}
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("seeder start: %v", err)
	}
	var ret any
	if err := c.Join(seeder, &ret); err != nil {
		t.Fatalf("seeder join: %v", err)
	}
	if ret != nil {
		t.Fatalf("seeder failed: %v", ret)
	}

	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Fatalf("task %d ran %d times: steal/pop collision", i, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, v := range perGroup {
		total += v
	}
	if total != n {
		t.Fatalf("executed %d, want %d", total, n)
	}
	if len(perGroup) < 2 {
		t.Fatalf("all %d tasks ran on one group: stealing never happened", n)
	}
}

// TestUsleepAccuracyAndOverlap: an ltask sleeping 10ms must sleep at
// least that long, and the worker must keep running other ltasks
// meanwhile.
func TestUsleepAccuracyAndOverlap(t *testing.T) {
	c := startControl(t, []int{1})

	var spins atomic.Int64
	stop := make(chan struct{})
	bg, _ := c.StartBackground(nil, func(w *W, _ any) any {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			spins.Add(1)
			w.Yield()
		}
	}, nil)

	sleeper, _ := c.StartBackground(nil, func(w *W, _ any) any {
		before := spins.Load()
		start := time.Now()
		if err := w.Usleep(10_000); err != nil {
			return err
		}
		elapsed := time.Since(start)
		after := spins.Load()
		if elapsed < 10*time.Millisecond {
			return "early wakeup"
		}
		if elapsed > 2*time.Second {
			return "overslept"
		}
		if after <= before {
			return "worker idled through the sleep"
		}
		return nil
	}, nil)

	var ret any
	if err := c.Join(sleeper, &ret); err != nil {
		t.Fatalf("join: %v", err)
	}
	close(stop)
	c.Join(bg, nil)
	if ret != nil {
		t.Fatalf("sleeper: %v", ret)
	}
}

// TestMonotoneAccounting samples every group's 128-bit snapshot while a
// workload churns: last_run and cumulated must never regress.
func TestMonotoneAccounting(t *testing.T) {
	c := startControl(t, []int{2})

	stopSampling := make(chan struct{})
	var sampleErr atomic.Value
	var wg sync.WaitGroup
	for _, g := range c.Groups(TagDefault) {
		wg.Add(1)
		go func(g *TaskGroup) {
			defer wg.Done()
			var lastRun, lastCum int64
			for {
				select {
				case <-stopSampling:
					return
				default:
				}
				run, _, cum := g.CPUTimeSnapshot()
				if run < lastRun || cum < lastCum {
					sampleErr.Store("accounting regressed")
					return
				}
				lastRun, lastCum = run, cum
			}
		}(g)
	}

	const n = 200
	tids := make([]Tid, 0, n)
	for i := 0; i < n; i++ {
		tid, _ := c.StartBackground(nil, func(w *W, _ any) any {
			for j := 0; j < 50; j++ {
				w.Yield()
			}
			return nil
		}, nil)
		tids = append(tids, tid)
	}
	for _, tid := range tids {
		c.Join(tid, nil)
	}
	close(stopSampling)
	wg.Wait()
	if e := sampleErr.Load(); e != nil {
		t.Fatal(e)
	}
}

// TestDeterministicWorkloadResults derives a per-task payload from
// Keccak of the index and checks every join observes the matching
// digest — a value-integrity sweep across many concurrent exits.
func TestDeterministicWorkloadResults(t *testing.T) {
	const n = 500
	c := startControl(t, []int{4})

	digest := func(i int) [32]byte {
		return sha3.Sum256([]byte{byte(i), byte(i >> 8), 0x5A})
	}

	tids := make([]Tid, 0, n)
	for i := 0; i < n; i++ {
		tid, err := c.StartBackground(nil, func(w *W, arg any) any {
			w.Yield()
			return digest(arg.(int))
		}, i)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		tids = append(tids, tid)
	}
	for i, tid := range tids {
		var ret any
		if err := c.Join(tid, &ret); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		if ret != digest(i) {
			t.Fatalf("task %d returned wrong digest", i)
		}
	}
}
