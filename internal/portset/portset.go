package portset

import (
	"iter"
	"math/bits"
)

const (
	// MinPort is the lowest port produced by open-ended specifications.
	MinPort uint16 = 1

	// MaxPort is the highest port of the TCP port space.
	MaxPort uint16 = 65535

	words = (int(MaxPort) + 1) / 64
)

// Set is a set of port numbers in [0, 65535].
// The zero value is an empty set ready to use.
type Set struct {
	bits [words]uint64
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Of returns a Set containing the given ports.
func Of(ports ...uint16) *Set {
	s := New()
	for _, p := range ports {
		s.Add(p)
	}
	return s
}

func position(port uint16) (int, uint64) {
	return int(port >> 6), uint64(1) << (port & 63)
}

// Add inserts port into the set.
func (s *Set) Add(port uint16) {
	i, mask := position(port)
	s.bits[i] |= mask
}

// AddRange inserts every port in the inclusive range [lo, hi].
// Nothing is added when lo > hi.
func (s *Set) AddRange(lo, hi uint16) {
	if lo > hi {
		return
	}
	for p := uint32(lo); p <= uint32(hi); p++ {
		s.Add(uint16(p))
	}
}

// Remove deletes port from the set.
func (s *Set) Remove(port uint16) {
	i, mask := position(port)
	s.bits[i] &^= mask
}

// RemoveAll deletes every given port from the set.
func (s *Set) RemoveAll(ports ...uint16) {
	for _, p := range ports {
		s.Remove(p)
	}
}

// Contains reports whether port is in the set.
func (s *Set) Contains(port uint16) bool {
	i, mask := position(port)
	return s.bits[i]&mask != 0
}

// Len returns the number of ports in the set.
// It is computed on demand by counting set bits.
func (s *Set) Len() int {
	n := 0
	for _, w := range s.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// All returns an iterator over the ports of the set in ascending order.
// Each call starts a fresh iteration.
func (s *Set) All() iter.Seq[uint16] {
	return func(yield func(uint16) bool) {
		for i, w := range s.bits {
			for w != 0 {
				tz := bits.TrailingZeros64(w)
				if !yield(uint16(i*64 + tz)) {
					return
				}
				w &= w - 1
			}
		}
	}
}

// Slice returns the ports of the set in ascending order.
func (s *Set) Slice() []uint16 {
	out := make([]uint16, 0, s.Len())
	for p := range s.All() {
		out = append(out, p)
	}
	return out
}
