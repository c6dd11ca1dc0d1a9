// errors.go
//
// errno-style sentinels.  The public surface promises POSIX-shaped
// error codes, so everything user-visible is a syscall.Errno and can be
// compared or converted to an int at the boundary.

package sched

import "syscall"

var (
	// ErrAgain: resource exhaustion (meta pool full), or a butex wait
	// whose word had already moved.
	ErrAgain error = syscall.EAGAIN
	// ErrInval: invalid argument (bad attr, joining self).
	ErrInval error = syscall.EINVAL
	// ErrNoSuch: no ltask with that id (stale generation).
	ErrNoSuch error = syscall.ESRCH
	// ErrIntr: a blocking primitive was interrupted.
	ErrIntr error = syscall.EINTR
	// ErrStop: the ltask's advisory stop flag was observed.
	ErrStop error = syscall.ECANCELED
	// ErrTimeout: a timed wait expired.
	ErrTimeout error = syscall.ETIMEDOUT
)
