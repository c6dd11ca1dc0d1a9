package atomic128

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

// TestLoadStoreRoundTrip performs a minimal sanity round-trip.
func TestLoadStoreRoundTrip(t *testing.T) {
	var c Composite128
	if p := c.Load(); p.V1 != 0 || p.V2 != 0 {
		t.Fatalf("zero value should load as (0,0), got (%d,%d)", p.V1, p.V2)
	}
	c.Store(Pair{V1: -7, V2: 42})
	if p := c.Load(); p.V1 != -7 || p.V2 != 42 {
		t.Fatalf("got (%d,%d), want (-7,42)", p.V1, p.V2)
	}
	if p := c.LoadRelaxed(); p.V1 != -7 || p.V2 != 42 {
		t.Fatalf("relaxed load got (%d,%d), want (-7,42)", p.V1, p.V2)
	}
}

// TestNoTornReads is the 128-bit atomicity property: one writer stores
// pairs (k,k) for k=1..N while concurrent readers sample; every sample
// must satisfy v1 == v2, i.e. no reader ever sees half of one store
// paired with half of another.
func TestNoTornReads(t *testing.T) {
	const iters = 200000
	var c Composite128
	var stop atomic.Bool
	var wg sync.WaitGroup

	readers := runtime.GOMAXPROCS(0)
	if readers < 2 {
		readers = 2
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				p := c.Load()
				if p.V1 != p.V2 {
					t.Errorf("torn read: v1=%d v2=%d", p.V1, p.V2)
					return
				}
			}
		}()
	}

	for k := int64(1); k <= iters; k++ {
		c.Store(Pair{V1: k, V2: k})
	}
	stop.Store(true)
	wg.Wait()
}

// TestMonotoneObservation checks that a reader polling a cell whose
// writer only ever increases both words never observes a regression.
func TestMonotoneObservation(t *testing.T) {
	const iters = 100000
	var c Composite128
	var wg sync.WaitGroup
	var stop atomic.Bool

	wg.Add(1)
	go func() {
		defer wg.Done()
		var last Pair
		for !stop.Load() {
			p := c.Load()
			if p.V1 < last.V1 || p.V2 < last.V2 {
				t.Errorf("regression: (%d,%d) after (%d,%d)", p.V1, p.V2, last.V1, last.V2)
				return
			}
			last = p
		}
	}()

	for k := int64(1); k <= iters; k++ {
		c.Store(Pair{V1: k, V2: k * 2})
	}
	stop.Store(true)
	wg.Wait()
}

func BenchmarkStore(b *testing.B) {
	var c Composite128
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Store(Pair{V1: int64(i), V2: int64(i)})
	}
}

func BenchmarkLoad(b *testing.B) {
	var c Composite128
	c.Store(Pair{V1: 1, V2: 2})
	b.ReportAllocs()
	var sink Pair
	for i := 0; i < b.N; i++ {
		sink = c.Load()
	}
	_ = sink
}

func BenchmarkLoadContended(b *testing.B) {
	var c Composite128
	var stop atomic.Bool
	go func() {
		var k int64
		for !stop.Load() {
			k++
			c.Store(Pair{V1: k, V2: k})
		}
	}()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p := c.Load()
			if p.V1 != p.V2 {
				b.Fatal("torn read under contention")
			}
		}
	})
	stop.Store(true)
}
