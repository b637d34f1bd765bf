//go:build go1.23

package mempool

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/flier/mempool/internal/debug"
	"github.com/flier/mempool/pkg/xunsafe"
	"github.com/flier/mempool/pkg/xunsafe/layout"
)

// Pool is a general-purpose memory pool. It satisfies variable-sized
// requests by multiplexing three strategies over bulk regions obtained
// from a [PageAllocator]:
//
//   - small requests (aligned size up to [SmallMax], default alignment)
//     come from segregated fixed-size free lists, one table per entry of
//     the static class-size table;
//   - medium requests (up to MediumMax, default alignment) are carved
//     first-fit from variable arenas and coalesced with their neighbours
//     on free;
//   - everything else goes straight to the page allocator, one region per
//     block.
//
// Every returned pointer is preceded by an in-band header, so Free needs
// no global lookup. User memory is in practice at least word-aligned:
// headers are word-aligned and a whole number of words long.
//
// A Pool is single-owner: it exposes no internal synchronisation, and a
// caller sharing one pool across goroutines must serialise every
// operation. Distinct pools are fully independent.
//
// There is no destructor. Call [Pool.Clear] when done with a pool;
// regions a pool never returns stay pinned in its page allocator.
type Pool struct {
	_ xunsafe.NoCopy

	alloc PageAllocator
	user  any

	pageSize  int
	mediumMax int

	small  [numClasses]*classTable
	medium *classTable

	// large tracks blocks obtained straight from the page allocator, so
	// Clear can find them; largeLive answers membership in O(1).
	large     blockList
	largeLive addrSet

	// ReleaseEmptyArenas controls whether fully-empty arenas beyond the
	// per-table sentinel are returned to the page allocator as frees come
	// in. On by default; turning it off trades memory for reuse latency.
	ReleaseEmptyArenas bool

	// pending stages arenas for release so a reclamation pass never
	// deallocates while walking a table. Reused across frees.
	pending []arenaAddr

	stats Statistics
}

// NewPool creates a pool drawing bulk memory from alloc in units derived
// from pageSize, which must be at least [MinPageSize]. A nil alloc selects
// [DefaultPageAllocator]. The user value is forwarded opaquely on every
// page-allocator call.
func NewPool(pageSize int, alloc PageAllocator, user any) *Pool {
	if pageSize < MinPageSize {
		panic(fmt.Sprintf("mempool: page size %d is below the minimum %d", pageSize, MinPageSize))
	}
	if alloc == nil {
		alloc = DefaultPageAllocator()
	}

	p := &Pool{
		alloc:     alloc,
		user:      user,
		pageSize:  pageSize,
		mediumMax: pageSize * PagesPerArena,
		medium:    &classTable{kind: variable},

		ReleaseEmptyArenas: true,
	}
	for i := range p.small {
		p.small[i] = &classTable{kind: smallFixed, classSize: classSizes[i]}
	}
	p.large.init()

	return p
}

// MediumMax returns the largest aligned size the variable arenas serve;
// anything above it routes to the page allocator directly.
func (p *Pool) MediumMax() int { return p.mediumMax }

// Alloc returns size bytes at the default alignment, or nil if the page
// allocator cannot back the request. size must be positive.
func (p *Pool) Alloc(size int) *byte {
	return p.AllocAligned(size, 0)
}

// AllocAligned returns size bytes aligned to align. An align of zero means
// [DefaultAlign]. Only default-aligned requests are eligible for the small
// and medium arenas, whose layouts bake that alignment in; any other
// alignment is satisfied by the page allocator directly.
func (p *Pool) AllocAligned(size, align int) *byte {
	if debug.Enabled {
		start := time.Now()
		defer func() { p.stats.AllocTime += time.Since(start) }()
	}

	debug.Assert(size > 0, "allocation of %d bytes", size)
	if size <= 0 {
		return nil
	}

	switch {
	case align == 0:
		align = DefaultAlign
	case align&(align-1) != 0:
		debug.Assert(false, "alignment %d is not a power of two", align)
		align = 1 << bits.Len(uint(align))
	}
	align = max(align, DefaultAlign)

	aligned := layout.RoundUp(size, align)
	switch {
	case align == DefaultAlign && aligned <= SmallMax:
		return p.allocSmall(aligned)
	case align == DefaultAlign && aligned <= p.mediumMax:
		return p.allocMedium(aligned)
	default:
		return p.allocLarge(aligned, align)
	}
}

func (p *Pool) allocSmall(aligned int) *byte {
	t := p.small[classIndex(aligned)]

	var h *blockHeader
	for _, aa := range t.arenas {
		if a := aa.AssertValid(); !a.free.empty() {
			h = a.free.popFront()
			a.used.pushBack(h)
			break
		}
	}
	if h == nil {
		a := p.newSmallArena(t)
		if a == nil {
			return nil
		}
		h = a.free.popFront()
		a.used.pushBack(h)
	}

	p.stats.blockAllocated(RegimeSmall, h.size)
	p.log("alloc", "small %v, class %d", xunsafe.AddrOf(h), t.classSize)
	return h.user()
}

func (p *Pool) allocMedium(aligned int) *byte {
	// Block sizes stay word-aligned so every in-band header carved out of
	// the arena lands on a word boundary.
	needed := layout.RoundUp(aligned, headerAlign) + headerSize

	var h *blockHeader
	for _, aa := range p.medium.arenas {
		if h = aa.AssertValid().carve(needed); h != nil {
			break
		}
	}
	if h == nil {
		a := p.newMediumArena(p.medium)
		if a == nil {
			return nil
		}
		h = a.carve(needed)
		debug.Assert(h != nil, "fresh arena cannot serve %d bytes", needed)
	}

	p.stats.blockAllocated(RegimeMedium, h.size)
	p.log("alloc", "medium %v, %d bytes", xunsafe.AddrOf(h), h.size)
	return h.user()
}

func (p *Pool) allocLarge(aligned, align int) *byte {
	finalSize := layout.RoundUp(aligned+headerSize, align)

	mem := p.alloc.Allocate(finalSize, align, p.user)
	if mem == nil {
		return nil
	}

	h := xunsafe.Cast[blockHeader](mem)
	*h = blockHeader{size: finalSize}
	p.large.pushBack(h)
	p.largeLive.insert(uintptr(xunsafe.AddrOf(h)))

	p.stats.blockAllocated(RegimeLarge, finalSize)
	p.stats.arenaCreated(RegimeLarge, finalSize)
	p.log("alloc", "large %v, %d bytes", xunsafe.AddrOf(h), finalSize)
	return h.user()
}

// Free returns ptr to the pool. ptr must have been returned by this pool's
// Alloc and not yet freed; Free(nil) is a no-op. Freeing a foreign or
// already-freed pointer is undefined behaviour, though debug builds detect
// it for large blocks.
func (p *Pool) Free(ptr *byte) {
	if ptr == nil {
		return
	}
	if debug.Enabled {
		start := time.Now()
		defer func() { p.stats.FreeTime += time.Since(start) }()
	}

	h := headerOf(ptr)
	if h.owner == 0 {
		p.freeLarge(h)
		return
	}

	a := h.owner.AssertValid()
	t := a.owner.AssertValid()

	switch t.kind {
	case smallFixed:
		debug.Assert(h.size == t.classSize+headerSize,
			"block %v has size %d, class wants %d", xunsafe.AddrOf(h), h.size, t.classSize+headerSize)

		a.used.remove(h)
		a.free.pushBack(h)
		p.stats.blockFreed(RegimeSmall, h.size)
		p.log("free", "small %v, class %d", xunsafe.AddrOf(h), t.classSize)

		if p.ReleaseEmptyArenas {
			p.reclaim(t, RegimeSmall)
		}

	default:
		size := h.size
		a.release(h)
		p.stats.blockFreed(RegimeMedium, size)
		p.log("free", "medium %v, %d bytes", xunsafe.AddrOf(h), size)

		if p.ReleaseEmptyArenas {
			p.reclaim(t, RegimeMedium)
		}
	}
}

func (p *Pool) freeLarge(h *blockHeader) {
	ok := p.largeLive.remove(uintptr(xunsafe.AddrOf(h)))
	debug.Assert(ok, "free of unknown large block %v", xunsafe.AddrOf(h))

	size := h.size
	p.large.remove(h)
	p.stats.blockFreed(RegimeLarge, size)
	p.stats.arenaReleased(RegimeLarge, size)
	p.log("free", "large %v, %d bytes", xunsafe.AddrOf(h), size)

	p.alloc.Deallocate(xunsafe.Cast[byte](h), size, p.user)
}

// reclaim returns every fully-empty arena beyond the table's first empty
// one to the page allocator. Releases are staged through p.pending so the
// arena slice is never mutated behind the walk.
func (p *Pool) reclaim(t *classTable, r Regime) {
	sentinelSeen := false
	kept := t.arenas[:0]
	for _, aa := range t.arenas {
		a := aa.AssertValid()
		if !a.used.empty() || !sentinelSeen {
			if a.used.empty() {
				sentinelSeen = true
			}
			kept = append(kept, aa)
			continue
		}
		p.pending = append(p.pending, aa)
	}
	t.arenas = kept

	for _, aa := range p.pending {
		a := aa.AssertValid()
		p.stats.arenaReleased(r, a.regionSize)
		p.log("reclaim", "arena %v, %d bytes", aa, a.regionSize)
		p.alloc.Deallocate(a.base(), a.regionSize, p.user)
	}
	p.pending = p.pending[:0]
}

// PreAllocate eagerly creates one arena per small size class, trading
// memory for first-touch latency. Classes that already have an arena are
// left alone.
func (p *Pool) PreAllocate() {
	for _, t := range p.small {
		if len(t.arenas) == 0 {
			p.newSmallArena(t)
		}
	}
}

// Clear returns every arena and every large block to the page allocator
// and resets statistics, leaving the pool equivalent to a freshly
// constructed one. Every pointer previously returned becomes invalid.
func (p *Pool) Clear() {
	for _, t := range p.small {
		p.clearTable(t, RegimeSmall)
	}
	p.clearTable(p.medium, RegimeMedium)

	for !p.large.empty() {
		h := p.large.popFront()
		size := h.size
		p.alloc.Deallocate(xunsafe.Cast[byte](h), size, p.user)
	}
	p.largeLive.reset()

	p.pending = p.pending[:0]
	p.stats.reset()
}

func (p *Pool) clearTable(t *classTable, r Regime) {
	for _, aa := range t.arenas {
		a := aa.AssertValid()
		p.log("clear", "%v arena %v, %d bytes", r, aa, a.regionSize)
		p.alloc.Deallocate(a.base(), a.regionSize, p.user)
	}
	t.arenas = nil
}

// Stats returns the pool's instrumentation block. The returned pointer
// stays valid for the pool's lifetime; Clear resets it in place.
func (p *Pool) Stats() *Statistics { return &p.stats }

func (p *Pool) log(op, format string, args ...any) {
	debug.Log([]any{"%p", p}, op, format, args...)
}
