// clock.go
//
// Time sources for accounting.  cpuwideNowNs is the wall timestamp fed
// into CpuTimeStat (63 usable bits, monotone enough between switches on
// one worker); cpuThreadTimeNs is the per-thread CPU clock used for the
// optional per-task cpu usage counter, and returns 0 where the platform
// offers none, which disables that accounting for the quantum.

package sched

import "time"

// cpuwideNowNs is the scheduler's wall clock in nanoseconds.
func cpuwideNowNs() int64 {
	return time.Now().UnixNano()
}
