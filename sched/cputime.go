// cputime.go
//
// CPUTimeStat packs a group's scheduling accounting into two words:
// word one carries the last scheduling timestamp in its low 63 bits and
// the main-task bit on top, word two is the cumulated non-main CPU time
// in nanoseconds.  Both words are replaced by one 128-bit store on
// every switch, so a peer reading the pair for steal heuristics or
// metrics can never see a timestamp from one switch and a cumulated
// value from another.

package sched

import "ltask/atomic128"

const (
	lastSchedulingTimeMask = int64(0x7FFFFFFFFFFFFFFF)
	taskTypeMask           = int64(-1) ^ lastSchedulingTimeMask // sign bit
)

// CPUTimeStat is the unpacked value; it only lives in registers and on
// stacks, the shared cell is atomicCPUTimeStat.
type CPUTimeStat struct {
	lastRunNsAndType int64
	cumulatedNs      int64
}

// SetLastRunNs records the timestamp of the switch and whether the task
// being switched IN is the group's main task.
func (s *CPUTimeStat) SetLastRunNs(ns int64, mainTask bool) {
	t := int64(0)
	if mainTask {
		t = taskTypeMask
	}
	s.lastRunNsAndType = (ns & lastSchedulingTimeMask) | t
}

// LastRunNs returns the recorded timestamp.
func (s CPUTimeStat) LastRunNs() int64 {
	return s.lastRunNsAndType & lastSchedulingTimeMask
}

// IsMainTask reports whether the recorded task was the main task.
func (s CPUTimeStat) IsMainTask() bool {
	return s.lastRunNsAndType&taskTypeMask != 0
}

// AddCumulatedNs accumulates a finished quantum.  Main-task time is
// bookkeeping, not workload, and is not accumulated.
func (s *CPUTimeStat) AddCumulatedNs(cputimeNs int64, mainTask bool) {
	if mainTask {
		return
	}
	s.cumulatedNs += cputimeNs
}

// CumulatedNs returns the cumulated non-main CPU time.
func (s CPUTimeStat) CumulatedNs() int64 {
	return s.cumulatedNs
}

// atomicCPUTimeStat is the shared cell: owner stores, anyone loads.
type atomicCPUTimeStat struct {
	cell atomic128.Composite128
}

func (a *atomicCPUTimeStat) Load() CPUTimeStat {
	p := a.cell.Load()
	return CPUTimeStat{lastRunNsAndType: p.V1, cumulatedNs: p.V2}
}

// LoadRelaxed skips the seqlock dance; owning worker only.
func (a *atomicCPUTimeStat) LoadRelaxed() CPUTimeStat {
	p := a.cell.LoadRelaxed()
	return CPUTimeStat{lastRunNsAndType: p.V1, cumulatedNs: p.V2}
}

func (a *atomicCPUTimeStat) Store(s CPUTimeStat) {
	a.cell.Store(atomic128.Pair{V1: s.lastRunNsAndType, V2: s.cumulatedNs})
}
