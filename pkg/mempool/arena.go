//go:build go1.23

package mempool

import (
	"unsafe"

	"github.com/flier/mempool/internal/debug"
	"github.com/flier/mempool/pkg/xunsafe"
)

// arenaAddr is the raw address of an arena header. Arena headers live at
// the head of page-allocator regions, which the GC does not scan, so they
// are referenced by address rather than by pointer everywhere.
type arenaAddr = xunsafe.Addr[poolArena]

// poolArena is the metadata stored at the head of every bulk region. The
// first usable byte sits immediately after it.
type poolArena struct {
	// owner is the classTable this arena belongs to. The table is a Go
	// heap object kept alive by the Pool, so holding its bare address
	// here is sound.
	owner xunsafe.Addr[classTable]

	// classSize is the fixed payload size for small arenas, zero for
	// medium ones.
	classSize int

	// usedBytes counts the bytes currently handed out, headers included.
	// Maintained only for medium arenas; always within
	// [0, regionSize].
	usedBytes int

	// regionSize is the total span of the region, this header included.
	regionSize int

	used blockList
	free blockList
}

const arenaSize = int(unsafe.Sizeof(poolArena{}))

// base returns the region pointer, i.e. the exact pointer the page
// allocator returned.
func (a *poolArena) base() *byte {
	return xunsafe.Cast[byte](a)
}

// newSmallArena creates an arena for t's class and appends it to the
// table. The region is chopped into uniform blocks of classSize plus
// header, all pushed onto the free list. Returns nil if the page
// allocator fails; the table is untouched in that case.
func (p *Pool) newSmallArena(t *classTable) *poolArena {
	regionSize := p.pageSize * PagesPerArena

	mem := p.alloc.Allocate(regionSize, MaxAlign, p.user)
	if mem == nil {
		return nil
	}

	a := xunsafe.Cast[poolArena](mem)
	*a = poolArena{
		owner:      xunsafe.AddrOf(t),
		classSize:  t.classSize,
		regionSize: regionSize,
	}
	a.used.init()
	a.free.init()

	blockSize := t.classSize + headerSize
	n := (regionSize - arenaSize) / blockSize
	debug.Assert(n > 0, "page size %d cannot back class %d", p.pageSize, t.classSize)

	at := xunsafe.AddrOf(a).ByteAdd(arenaSize)
	for range n {
		h := xunsafe.Cast[blockHeader](at.AssertValid())
		*h = blockHeader{owner: xunsafe.AddrOf(a), size: blockSize}
		a.free.pushBack(h)
		at = at.ByteAdd(blockSize)
	}

	t.arenas = append(t.arenas, xunsafe.AddrOf(a))
	p.stats.arenaCreated(RegimeSmall, regionSize)
	return a
}

// newMediumArena creates a variable arena whose space starts life as a
// single free block. The region is sized so that a request of exactly
// MediumMax bytes fits after both the arena header and the block header.
func (p *Pool) newMediumArena(t *classTable) *poolArena {
	regionSize := p.mediumMax + arenaSize + headerSize

	mem := p.alloc.Allocate(regionSize, MaxAlign, p.user)
	if mem == nil {
		return nil
	}

	a := xunsafe.Cast[poolArena](mem)
	*a = poolArena{
		owner:      xunsafe.AddrOf(t),
		regionSize: regionSize,
	}
	a.used.init()
	a.free.init()

	h := xunsafe.ByteAdd[blockHeader](a, arenaSize)
	*h = blockHeader{owner: xunsafe.AddrOf(a), size: regionSize - arenaSize}
	a.free.pushBack(h)

	t.arenas = append(t.arenas, xunsafe.AddrOf(a))
	p.stats.arenaCreated(RegimeMedium, regionSize)
	return a
}

// carve satisfies a medium request from a's free list, first-fit over the
// address-sorted list. If the tail left over after the cut is big enough
// to ever serve another medium request, the block is split and the
// remainder re-inserted; otherwise the whole block is taken. Returns nil
// if nothing fits.
func (a *poolArena) carve(needed int) *blockHeader {
	for b := range a.free.all {
		if b.size < needed {
			continue
		}

		// A remainder whose payload (after its own header) is at or below
		// SmallMax would be unserviceable here: the small regime allocates
		// only from its own arenas.
		if rem := b.size - needed; rem > SmallMax+headerSize {
			b.size = needed

			next := xunsafe.AddrOf(b).ByteAdd(needed).AssertValid()
			*next = blockHeader{owner: b.owner, size: rem}
			a.free.orderedInsert(next)
		}

		a.free.remove(b)
		a.used.pushBack(b)

		a.usedBytes += b.size
		debug.Assert(a.usedBytes <= a.regionSize,
			"arena %v used %d bytes out of %d", xunsafe.AddrOf(a), a.usedBytes, a.regionSize)

		return b
	}
	return nil
}

// release returns a block carved by carve. The free list stays
// address-sorted and neighbour-free.
func (a *poolArena) release(h *blockHeader) {
	size := h.size // coalesce below may grow h in place

	a.used.remove(h)
	a.free.orderedInsert(h)
	a.free.coalesce()

	a.usedBytes -= size
	debug.Assert(a.usedBytes >= 0, "arena %v freed more than it allocated", xunsafe.AddrOf(a))
}
