//go:build go1.23

package mempool

import (
	"sync"
	"unsafe"

	"github.com/flier/mempool/internal/debug"
	"github.com/flier/mempool/internal/xsync"
	"github.com/flier/mempool/pkg/xunsafe"
)

// PageAllocator is the pool's only source of raw storage. It hands out
// bulk regions and takes back the exact (pointer, size) pairs it returned.
//
// The user value given to [NewPool] is forwarded opaquely on every call.
// An implementation signals failure by returning nil from Allocate; it
// must never return a region that overlaps one still outstanding.
type PageAllocator interface {
	// Allocate returns at least size bytes aligned to align, or nil on
	// failure.
	Allocate(size, align int, user any) *byte

	// Deallocate accepts a (p, size) pair exactly as returned by a prior
	// Allocate.
	Deallocate(p *byte, size int, user any)
}

// poison fills fresh regions in debug builds, so use of uninitialized or
// recycled memory shows up as a recognizable pattern.
const poison = 'X'

// heapPages is a PageAllocator backed by the Go heap.
//
// Regions are plain byte slices pinned in a registry keyed by their
// (aligned) address; Deallocate unpins them and lets the collector take
// over. The registry is concurrent because the process-wide default
// allocator is shared by every pool that does not bring its own.
//
// Regions contain no pointers the GC can see, which is exactly what the
// pool wants: arena metadata and block headers store [xunsafe.Addr]
// values, never real pointers.
type heapPages struct {
	regions xsync.Map[xunsafe.Addr[byte], []byte]
}

func (h *heapPages) Allocate(size, align int, user any) *byte {
	debug.Assert(size > 0, "page allocation of %d bytes", size)
	if align < 1 {
		align = 1
	}

	// Over-allocate by the alignment so the rounded-up address is always
	// in bounds. The Go heap aligns large noscan objects generously, so
	// the rounding is almost always a no-op.
	buf := make([]byte, size+align-1)
	if debug.Enabled {
		for i := range buf {
			buf[i] = poison
		}
	}

	addr := xunsafe.AddrOf(unsafe.SliceData(buf)).RoundUpTo(align)
	h.regions.Store(addr, buf)
	return addr.AssertValid()
}

func (h *heapPages) Deallocate(p *byte, size int, user any) {
	debug.Assert(p != nil, "deallocate of nil region")
	h.regions.Delete(xunsafe.AddrOf(p))
}

var defaultPages = sync.OnceValue(func() *heapPages {
	return new(heapPages)
})

// DefaultPageAllocator returns the process-wide heap-backed page
// allocator, created lazily on first use. Pools constructed with a nil
// allocator use it implicitly.
//
// Callers with stronger requirements (VirtualAlloc, mmap, a file-backed
// region) supply their own PageAllocator instead; the pool is agnostic.
func DefaultPageAllocator() PageAllocator {
	return defaultPages()
}
