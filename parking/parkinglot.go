// parkinglot.go
//
// Lot is a futex-like multi-waiter primitive keyed on an epoch.  Idle
// workers capture the epoch, re-check their queues, then sleep; any
// producer that signals in between advances the epoch, so the sleep
// returns immediately and the classic lost-wakeup interleaving cannot
// park a worker past ready work.
//
// The epoch word doubles as the stop flag: bit 0 is set by Stop, every
// Signal(n) adds 2n.  Waiters only ever compare epochs for equality, so the
// packing is invisible to them.
//
// On Linux the sleep is a raw FUTEX_WAIT on the epoch word (see
// futex_linux.go); elsewhere a channel-based emulation stands in with
// the same wake-all-and-recheck contract.

package parking

import "sync/atomic"

// Lot parks workers on an epoch word.
type Lot struct {
	_     [64]byte // epoch word gets its own cache line
	state atomic.Int32
	_     [60]byte
}

// State captures the current epoch.  Callers pass it back to Wait.
func (l *Lot) State() int32 { return l.state.Load() }

// Stopped reports whether the given epoch carries the stop bit.
func Stopped(epoch int32) bool { return epoch&1 != 0 }

// Signal advances the epoch and wakes up to n sleepers.
func (l *Lot) Signal(n int) {
	if n <= 0 {
		return
	}
	l.state.Add(int32(n) << 1)
	futexWake(&l.state, n)
}

// Wait parks the calling thread until the epoch moves past expected.
// Returns immediately if it already has.
func (l *Lot) Wait(expected int32) {
	if l.state.Load() == expected {
		futexWait(&l.state, expected, -1)
	}
}

// WaitTimeout parks like Wait but for at most timeoutNs nanoseconds.
func (l *Lot) WaitTimeout(expected int32, timeoutNs int64) {
	if timeoutNs <= 0 {
		return
	}
	if l.state.Load() == expected {
		futexWait(&l.state, expected, timeoutNs)
	}
}

// Stop sets the stop bit and wakes every sleeper.  Workers observe the
// bit through their next State capture and exit their wait loops.
func (l *Lot) Stop() {
	l.state.Or(1)
	futexWake(&l.state, 1<<30)
}
