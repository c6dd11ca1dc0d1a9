//go:build linux

// platform_linux.go
//
// Linux bindings: worker thread id, per-thread CPU clock, and the CPU
// pin used when worker affinity is enabled.  Affinity errors are
// swallowed on purpose: inside cgroup-restricted containers the call
// may fail with EPERM/EINVAL and the fallback is simply "no pin".

package sched

import "golang.org/x/sys/unix"

// osTid returns the kernel thread id of the calling thread.
func osTid() int32 {
	return int32(unix.Gettid())
}

// cpuThreadTimeNs reads CLOCK_THREAD_CPUTIME_ID.
func cpuThreadTimeNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// setAffinity pins the current thread to one logical CPU.
func setAffinity(cpu int) {
	if cpu < 0 {
		return
	}
	var set unix.CPUSet
	set.Set(cpu)
	_ = unix.SchedSetaffinity(0, &set)
}
