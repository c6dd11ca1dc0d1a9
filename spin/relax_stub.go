//go:build !amd64 || noasm

// relax_stub.go
//
// Portable no-op Relax for platforms without an emitted PAUSE.  The Go
// scheduler's own preemption keeps pure-Go spin loops from starving
// peers, so an empty body is acceptable here.

package spin

// Relax is a hint to the CPU that the caller is spinning.
func Relax() {}
