//go:build linux

// futex_linux.go
//
// Raw futex bindings for the parking lot.  The epoch word is an
// atomic.Int32 whose address is handed straight to the kernel; the
// word's value comparison inside FUTEX_WAIT closes the race between the
// userspace epoch check and the sleep.
//
// Errors are deliberately swallowed: EAGAIN means the epoch moved (the
// caller re-checks), EINTR means a signal (ditto), and ETIMEDOUT is the
// expected exit of a timed wait.

package parking

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait sleeps while *addr == val.  timeoutNs < 0 means forever.
func futexWait(addr *atomic.Int32, val int32, timeoutNs int64) {
	var tsp *unix.Timespec
	if timeoutNs >= 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		tsp = &ts
	}
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT_PRIVATE),
		uintptr(uint32(val)),
		uintptr(unsafe.Pointer(tsp)),
		0, 0,
	)
}

// futexWake wakes up to n threads sleeping on addr.
func futexWake(addr *atomic.Int32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE_PRIVATE),
		uintptr(n),
		0, 0, 0,
	)
}
