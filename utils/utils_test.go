package utils

import "testing"

// TestItoa covers sign handling and digit boundaries.
func TestItoa(t *testing.T) {
	cases := map[int]string{
		0:     "0",
		7:     "7",
		-7:    "-7",
		42:    "42",
		-1000: "-1000",
		1<<31 - 1: "2147483647",
	}
	for in, want := range cases {
		if got := Itoa(in); got != want {
			t.Errorf("Itoa(%d) = %q, want %q", in, got, want)
		}
	}
}

// TestUtoa checks the unsigned edge at max uint64.
func TestUtoa(t *testing.T) {
	if got := Utoa(^uint64(0)); got != "18446744073709551615" {
		t.Fatalf("Utoa(max) = %q", got)
	}
}

// TestB2s round-trips content without copying semantics surprises.
func TestB2s(t *testing.T) {
	if B2s(nil) != "" {
		t.Fatal("B2s(nil) should be empty")
	}
	b := []byte("hello")
	if s := B2s(b); s != "hello" {
		t.Fatalf("B2s = %q", s)
	}
}

// TestNextPow2 checks boundaries around powers of two.
func TestNextPow2(t *testing.T) {
	cases := map[int]int{
		0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8,
		1023: 1024, 1024: 1024, 1025: 2048,
	}
	for in, want := range cases {
		if got := NextPow2(in); got != want {
			t.Errorf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}

// TestMix64Decorrelates makes sure the mix is a bijection on the
// samples we feed it, so adjacent inputs never collide.
func TestMix64Decorrelates(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := uint64(0); i < 10000; i++ {
		v := Mix64(i)
		if seen[v] {
			t.Fatalf("Mix64 collision at input %d", i)
		}
		seen[v] = true
	}
	if Mix64(1) == Mix64(2) {
		t.Fatal("adjacent inputs must not collide")
	}
}
