//go:build go1.23

package mempool

import (
	"unsafe"

	"github.com/flier/mempool/pkg/xunsafe"
	"github.com/flier/mempool/pkg/xunsafe/layout"
)

// New allocates a value of type T from the pool and initialises it.
// Returns nil if the pool cannot back the allocation.
//
// T must not require more than word alignment, and must not contain
// pointers to memory the pool does not own: pool regions are invisible to
// the garbage collector, so a pointer stored in one keeps nothing alive.
func New[T any](p *Pool, value T) *T {
	l := layout.Of[T]()
	if l.Align > headerAlign {
		panic("mempool: over-aligned object")
	}

	ptr := p.Alloc(max(l.Size, 1))
	if ptr == nil {
		return nil
	}

	v := xunsafe.Cast[T](ptr)
	*v = value
	return v
}

// Free releases a value previously allocated with [New].
func Free[T any](p *Pool, v *T) {
	p.Free(xunsafe.Cast[byte](v))
}

// Make allocates a slice of n values of type T from the pool. Returns nil
// if n is not positive or the pool cannot back the allocation. The same
// shape restrictions as for [New] apply.
func Make[T any](p *Pool, n int) []T {
	l := layout.Of[T]()
	if l.Align > headerAlign {
		panic("mempool: over-aligned object")
	}
	if n <= 0 {
		return nil
	}

	ptr := p.Alloc(max(l.Size*n, 1))
	if ptr == nil {
		return nil
	}

	return unsafe.Slice(xunsafe.Cast[T](ptr), n)
}

// FreeSlice releases a slice previously allocated with [Make]. The slice
// must be the original one, not a reslice past its first element.
func FreeSlice[T any](p *Pool, s []T) {
	if cap(s) == 0 {
		return
	}
	p.Free(xunsafe.Cast[byte](unsafe.SliceData(s)))
}
