//go:build !linux

// platform_stub.go
//
// Portable stubs.  A zero thread CPU clock disables per-quantum cpu
// usage accounting (the scheduler treats 0 as "no clock"), and pinning
// becomes a no-op.

package sched

func osTid() int32 { return 0 }

func cpuThreadTimeNs() int64 { return 0 }

func setAffinity(cpu int) {}
