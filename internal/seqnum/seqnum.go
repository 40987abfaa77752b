// Package seqnum implements the modular 16-bit sequence-number
// arithmetic spec.md §3 and §9 describe: all sequence subtractions are
// modulo 2^16, implemented with plain unsigned wraparound.
package seqnum

// Distance returns the number of steps to advance from to get to to,
// wrapping modulo 2^16. Distance(a, a) == 0 and Distance(a, a+k) == k
// for any k in [0, 2^16) (spec.md §8, invariant 6).
func Distance(from, to uint16) uint16 {
	return to - from
}

// Gap returns the number of frames lost between two consecutive
// observations of a sequence counter: zero when to immediately follows
// from, and Distance(from, to)-1 otherwise. A repeated or
// out-of-order-backwards sequence number yields a large value, which
// callers treat the same as any other nonzero gap.
func Gap(prev, cur uint16) uint16 {
	return Distance(prev, cur) - 1
}
