//go:build go1.23

package mempool

import (
	"sync"
)

const (
	// DefaultAlign is the alignment applied when Alloc is called with no
	// explicit alignment. Small and medium arenas bake this value into
	// their layout.
	DefaultAlign = 4

	// MaxAlign is the largest alignment the in-arena layouts can satisfy.
	// Requests beyond it are still honored, via the page allocator.
	MaxAlign = 16

	// SmallMax is the largest aligned size served by the fixed-size class
	// tables.
	SmallMax = 32768

	// MinPageSize is the smallest bulk-allocation unit a Pool accepts.
	MinPageSize = 65536

	// PagesPerArena is the number of page-size units that back one arena.
	PagesPerArena = 16
)

// classSizes is the static table of fixed block sizes served by the small
// regime. The spacing is roughly geometric, keeping per-class internal
// fragmentation bounded without an explosion of tables. Every entry is a
// multiple of MaxAlign, so uniformly-carved blocks stay 16-aligned.
var classSizes = [...]int{
	16, 32, 48, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 288, 320, 384, 448,
	512, 576, 640, 704, 768, 896, 1024, 1168,
	1360, 1632, 2048, 2336, 2720, 3264, 4096, 4368,
	4672, 5040, 5456, 5952, 6544, 7280, 8192, 9360,
	10912, 13104, 16384, 21840, 32768,
}

const numClasses = len(classSizes)

// smallIndex is the direct map from (alignedSize/4)-1 to a class index.
// It depends only on the static class table, so it is built once per
// process rather than per pool.
var smallIndex = sync.OnceValue(func() []uint8 {
	idx := make([]uint8, SmallMax/4)

	class := 0
	for s := 4; s <= SmallMax; s += 4 {
		for classSizes[class] < s {
			class++
		}
		idx[s/4-1] = uint8(class)
	}
	return idx
})

// classIndex maps an aligned size in (0, SmallMax] to its class index.
func classIndex(alignedSize int) int {
	return int(smallIndex()[alignedSize/4-1])
}

type tableKind uint8

const (
	// smallFixed tables hand out identical-sized blocks from slab-style
	// arenas.
	smallFixed tableKind = iota

	// variable tables carve blocks of any size via first-fit-then-split
	// and coalesce neighbours on free.
	variable
)

// classTable groups the arenas serving one size class.
//
// Arenas appear in creation order. The first fully-empty arena is treated
// as a retain-one sentinel: it is never returned to the page allocator
// while the pool is alive, so a workload that repeatedly drains and
// refills a class keeps one arena warm.
type classTable struct {
	kind      tableKind
	classSize int // fixed block payload size; zero for variable tables

	arenas []arenaAddr
}
