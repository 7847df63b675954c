package hashing

import "testing"

func TestPairDeterministic(t *testing.T) {
	a1, a2 := Pair([]byte("hello"))
	b1, b2 := Pair([]byte("hello"))
	if a1 != b1 || a2 != b2 {
		t.Fatalf("hash of same key differs: (%d,%d) vs (%d,%d)", a1, a2, b1, b2)
	}
}

func TestPairIndependent(t *testing.T) {
	h1, h2 := Pair([]byte("some-key"))
	if h1 == h2 {
		t.Fatalf("expected independent hashes, got equal values %d", h1)
	}
}

func TestProbesWithinRange(t *testing.T) {
	const m = 997
	positions := Probes([]byte("probe-me"), 5, m)
	if len(positions) != 5 {
		t.Fatalf("expected 5 positions, got %d", len(positions))
	}
	for _, p := range positions {
		if p >= m {
			t.Fatalf("position %d out of range [0, %d)", p, m)
		}
	}
}
