// atomic128.go
//
// Composite128 is a 128-bit (int64, int64) cell with torn-read-free
// load/store between one writer and any number of readers.  Go exposes
// no 16-byte atomic instruction, so the cell publishes through a
// sequence stamp the same way a ring slot publishes its payload: the
// writer bumps the sequence to odd, stores both words, then bumps it to
// even; readers retry while the sequence is odd or moved underneath
// them.  Readers never block and the writer never waits, which is a
// strictly stronger progress guarantee than the mutex fallback the
// structure would otherwise need.
//
// The cell is padded to its own cache line so stores by the owning
// worker do not collide with unrelated neighbours.

package atomic128

import (
	"sync/atomic"

	"ltask/spin"
)

// Pair is the value transported through a Composite128.
type Pair struct {
	V1 int64
	V2 int64
}

// Composite128 holds one Pair.  Exactly one goroutine may call Store;
// any goroutine may call Load.  LoadRelaxed is reserved for the writer
// observing its own cell.
type Composite128 struct {
	_   [64]byte // isolate the cell on its own cache line
	seq atomic.Uint64
	v1  atomic.Int64
	v2  atomic.Int64
	//lint:ignore U1000 padding keeps the trailing words off the next line
	_pad [64 - 8*3]byte
}

// Load returns the pair, retrying until it observes a stable snapshot.
//
//go:nosplit
func (c *Composite128) Load() Pair {
	for {
		s0 := c.seq.Load()
		if s0&1 != 0 {
			spin.Relax()
			continue // store in progress
		}
		p := Pair{V1: c.v1.Load(), V2: c.v2.Load()}
		if c.seq.Load() == s0 {
			return p
		}
		spin.Relax()
	}
}

// LoadRelaxed reads the pair without the sequence dance.  Only the
// single writer may call it: from that goroutine the two words cannot
// be mid-store.
//
//go:nosplit
func (c *Composite128) LoadRelaxed() Pair {
	return Pair{V1: c.v1.Load(), V2: c.v2.Load()}
}

// Store publishes a new pair.  Single writer only.
//
//go:nosplit
func (c *Composite128) Store(p Pair) {
	s := c.seq.Load()
	c.seq.Store(s + 1) // odd: readers stand back
	c.v1.Store(p.V1)
	c.v2.Store(p.V2)
	c.seq.Store(s + 2) // even: snapshot published
}
