package utils

import (
	"syscall"
	"unsafe"
)

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
// Used for human-readable print paths.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting — For Diagnostic Paths
///////////////////////////////////////////////////////////////////////////////

// Itoa renders a signed integer into a stack buffer and returns it as a
// string. One small allocation for the result, nothing else; good enough
// for cold diagnostic paths where strconv would drag in more code.
func Itoa(v int) string {
	if v < 0 {
		return "-" + Utoa(uint64(-v))
	}
	return Utoa(uint64(v))
}

// Utoa renders an unsigned integer, same contract as Itoa.
func Utoa(v uint64) string {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return string(buf[i:])
}

///////////////////////////////////////////////////////////////////////////////
// Warning Sink — Direct fd 2 Writes
///////////////////////////////////////////////////////////////////////////////

// PrintWarning writes msg straight to stderr (fd 2), bypassing buffering
// and the fmt machinery. Interleaving with other writers is byte-atomic
// up to PIPE_BUF, which is all the diagnostics paths need.
func PrintWarning(msg string) {
	b := unsafe.Slice(unsafe.StringData(msg), len(msg))
	for len(b) > 0 {
		n, err := syscall.Write(2, b)
		if n <= 0 || err != nil {
			return
		}
		b = b[n:]
	}
}

///////////////////////////////////////////////////////////////////////////////
// Hash & Mixers — Steal Seed Rotation
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Used to decorrelate per-group steal seeds derived from adjacent ids.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

///////////////////////////////////////////////////////////////////////////////
// Sizing Helpers
///////////////////////////////////////////////////////////////////////////////

// NextPow2 rounds n up to the next power of two (minimum 1).
//
//go:nosplit
//go:inline
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	x := uint64(n - 1)
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return int(x + 1)
}
