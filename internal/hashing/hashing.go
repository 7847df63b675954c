// Package hashing supplies the two independent 64-bit hashes the Bloom
// filter layers combine by double hashing to produce k probe positions.
package hashing

import "github.com/twmb/murmur3"

// Pair computes two independent 64-bit hashes of key. murmur3's 128-bit
// sum already yields two independent 64-bit halves, satisfying the
// double-hashing contract without a second hash family.
func Pair(key []byte) (h1, h2 uint64) {
	return murmur3.Sum128(key)
}

// Probes returns the k probe positions for key modulo m, computed as
// (h1 + i*h2) mod m for i in [0, k).
func Probes(key []byte, k int, m uint64) []uint64 {
	h1, h2 := Pair(key)
	positions := make([]uint64, k)
	for i := 0; i < k; i++ {
		positions[i] = (h1 + uint64(i)*h2) % m
	}
	return positions
}
