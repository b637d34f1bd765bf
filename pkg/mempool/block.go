//go:build go1.23

package mempool

import (
	"unsafe"

	"github.com/flier/mempool/internal/debug"
	"github.com/flier/mempool/pkg/xunsafe"
)

// blockHeader is the in-band prefix stored immediately in front of every
// pointer handed to the caller.
//
// Headers live inside page-allocator regions, which the garbage collector
// does not scan, so every field must be pointer-free. Links and the owner
// back-reference are stored as [xunsafe.Addr] values for that reason; the
// objects they point at are kept alive by the owning [Pool].
type blockHeader struct {
	// owner is the arena this block was carved from, or zero for blocks
	// obtained directly from the page allocator.
	owner xunsafe.Addr[poolArena]

	// prev and next thread the block through whichever blockList it is on.
	// Their contents are meaningless while the caller holds the block; the
	// space is reserved so that free never has to allocate.
	prev, next xunsafe.Addr[blockHeader]

	// size is the total byte count of the block including this header, i.e.
	// the distance to the next potential block boundary.
	size int
}

const (
	headerSize  = int(unsafe.Sizeof(blockHeader{}))
	headerAlign = int(unsafe.Alignof(blockHeader{}))
)

// end returns the one-past-the-end address of the block.
func (h *blockHeader) end() xunsafe.Addr[blockHeader] {
	return xunsafe.AddrOf(h).ByteAdd(h.size)
}

// user returns the caller-visible pointer for this block.
func (h *blockHeader) user() *byte {
	return xunsafe.ByteAdd[byte](h, headerSize)
}

// headerOf recovers the header for a pointer previously returned by user.
func headerOf(p *byte) *blockHeader {
	return xunsafe.ByteAdd[blockHeader](p, -headerSize)
}

// blockList is an intrusive, circular, doubly-linked list of block headers
// with an embedded sentinel. The sentinel keeps push and remove branchless
// and allocation-free.
//
// A blockList is embedded either in an arena header (raw memory) or in a
// [Pool] (Go heap); in both cases its address must be stable for the
// lifetime of its members, since they link back to the sentinel.
type blockList struct {
	root blockHeader
}

// init links the sentinel to itself. Must be called before any other
// operation; a zero blockList is not ready to use because the sentinel
// links are self-referential addresses.
func (l *blockList) init() {
	r := xunsafe.AddrOf(&l.root)
	l.root.prev = r
	l.root.next = r
}

func (l *blockList) sentinel() xunsafe.Addr[blockHeader] {
	return xunsafe.AddrOf(&l.root)
}

func (l *blockList) empty() bool {
	return l.root.next == l.sentinel()
}

// pushBack appends h in O(1).
func (l *blockList) pushBack(h *blockHeader) {
	r := l.sentinel()
	h.prev = l.root.prev
	h.next = r
	l.root.prev.AssertValid().next = xunsafe.AddrOf(h)
	l.root.prev = xunsafe.AddrOf(h)
}

// popFront removes and returns the first block. The list must be non-empty.
func (l *blockList) popFront() *blockHeader {
	debug.Assert(!l.empty(), "popFront on empty block list")

	h := l.root.next.AssertValid()
	l.remove(h)
	return h
}

// remove unlinks h in O(1). h must be a member of l.
func (l *blockList) remove(h *blockHeader) {
	h.prev.AssertValid().next = h.next
	h.next.AssertValid().prev = h.prev
	h.prev = 0
	h.next = 0
}

// orderedInsert inserts h keeping the list sorted by header address
// ascending. O(n) in the list length.
func (l *blockList) orderedInsert(h *blockHeader) {
	r := l.sentinel()
	addr := xunsafe.AddrOf(h)

	at := l.root.next
	for at != r && at < addr {
		at = at.AssertValid().next
	}
	debug.Assert(at != addr, "block %v inserted twice", addr)

	// Insert before at.
	prev := at.AssertValid().prev
	h.prev = prev
	h.next = at
	prev.AssertValid().next = addr
	at.AssertValid().prev = addr
}

// all iterates the list front to back. The current block may be removed
// during iteration; the next link is read before yielding.
func (l *blockList) all(yield func(*blockHeader) bool) {
	r := l.sentinel()
	for at := l.root.next; at != r; {
		h := at.AssertValid()
		at = h.next
		if !yield(h) {
			return
		}
	}
}

// coalesce merges every pair of address-adjacent neighbours, summing their
// sizes. The list must be address-sorted ascending and all members must
// belong to the same arena.
func (l *blockList) coalesce() {
	r := l.sentinel()
	at := l.root.next
	for at != r {
		h := at.AssertValid()
		for h.next != r && h.end() == h.next {
			n := h.next.AssertValid()
			h.size += n.size
			l.remove(n)
		}
		at = h.next
	}
}
