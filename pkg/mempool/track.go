//go:build go1.23

package mempool

import (
	"math/bits"

	"github.com/dolthub/maphash"
)

// addrSet is a linear-probing open-addressed set of block addresses, used
// to answer "does this pool own that large block" in O(1). Zero marks an
// empty slot and tombstone a deleted one, so valid addresses are never
// confused with either.
//
// The zero value is ready to use.
type addrSet struct {
	hash  maphash.Hasher[uintptr]
	slots []uintptr
	live  int
	dead  int
}

const (
	tombstone       = ^uintptr(0)
	minAddrSetSlots = 64
)

func (s *addrSet) insert(a uintptr) {
	if s.slots == nil {
		s.hash = maphash.NewHasher[uintptr]()
		s.slots = make([]uintptr, minAddrSetSlots)
	}
	// Rehash at 3/4 occupancy, tombstones included. Sizing off the live
	// count alone means a tombstone-heavy table rehashes in place instead
	// of growing without bound.
	if (s.live+s.dead+1)*4 > len(s.slots)*3 {
		s.rehash(max(minAddrSetSlots, (s.live+1)*2))
	}

	mask := uint64(len(s.slots) - 1)
	i := s.hash.Hash(a) & mask
	for {
		switch s.slots[i] {
		case 0, tombstone:
			s.slots[i] = a
			s.live++
			return
		case a:
			return
		}
		i = (i + 1) & mask
	}
}

func (s *addrSet) has(a uintptr) bool {
	if s.live == 0 {
		return false
	}

	mask := uint64(len(s.slots) - 1)
	i := s.hash.Hash(a) & mask
	for {
		switch s.slots[i] {
		case a:
			return true
		case 0:
			return false
		}
		i = (i + 1) & mask
	}
}

// remove deletes a from the set, reporting whether it was present.
func (s *addrSet) remove(a uintptr) bool {
	if s.live == 0 {
		return false
	}

	mask := uint64(len(s.slots) - 1)
	i := s.hash.Hash(a) & mask
	for {
		switch s.slots[i] {
		case a:
			s.slots[i] = tombstone
			s.live--
			s.dead++
			return true
		case 0:
			return false
		}
		i = (i + 1) & mask
	}
}

func (s *addrSet) reset() {
	clear(s.slots)
	s.live = 0
	s.dead = 0
}

func (s *addrSet) rehash(n int) {
	n = 1 << bits.Len(uint(n-1))

	old := s.slots
	s.slots = make([]uintptr, n)
	s.live = 0
	s.dead = 0

	for _, a := range old {
		if a != 0 && a != tombstone {
			s.insert(a)
		}
	}
}
