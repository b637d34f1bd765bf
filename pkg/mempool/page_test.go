//go:build go1.23

package mempool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *heapPages) pinned() int {
	n := 0
	for range h.regions.All() {
		n++
	}
	return n
}

func TestHeapPagesAlignment(t *testing.T) {
	h := new(heapPages)

	for _, align := range []int{1, 4, 8, 16, 64, 4096} {
		p := h.Allocate(1024, align, nil)
		require.NotNil(t, p)
		assert.Zero(t, uintptr(unsafe.Pointer(p))%uintptr(align), "align %d", align)

		// The full span must be writable.
		b := unsafe.Slice(p, 1024)
		for i := range b {
			b[i] = byte(i)
		}

		h.Deallocate(p, 1024, nil)
	}
}

func TestHeapPagesRegistry(t *testing.T) {
	h := new(heapPages)

	p := h.Allocate(4096, 16, nil)
	q := h.Allocate(4096, 16, nil)
	require.NotNil(t, p)
	require.NotNil(t, q)
	assert.Equal(t, 2, h.pinned())

	h.Deallocate(p, 4096, nil)
	assert.Equal(t, 1, h.pinned())

	h.Deallocate(q, 4096, nil)
	assert.Equal(t, 0, h.pinned())
}

func TestDefaultPageAllocatorIsSingleton(t *testing.T) {
	assert.Equal(t, DefaultPageAllocator(), DefaultPageAllocator())
}
