//go:build go1.23

// Package mempool provides a general-purpose memory pool: a user-space
// allocator that serves variable-sized requests out of bulk regions
// obtained from a pluggable page allocator.
//
// It targets workloads with many small allocations and heavy
// allocation/deallocation churn, where going through the general
// allocator for every object is the dominant cost, while still handling
// medium and arbitrarily large requests correctly.
//
// # Size regimes
//
// Each request is routed by its aligned size:
//
//   - Small (≤ 32 KiB at default alignment): segregated fixed-size free
//     lists, one per entry of a static 45-class size table. Allocation
//     and free are list pops and pushes.
//   - Medium (up to 16 page units at default alignment): variable arenas
//     carved first-fit with splitting; frees re-insert in address order
//     and merge adjacent neighbours.
//   - Large (everything else, including any non-default alignment): one
//     page-allocator region per block.
//
// Every returned pointer is immediately preceded by an in-band header, so
// [Pool.Free] recovers ownership at a fixed negative offset with no
// global lookup.
//
// # Arena reclamation
//
// When a free leaves an arena empty, the arena is returned to the page
// allocator — except the first empty one of each table, which is retained
// as a sentinel to absorb drain-and-refill churn. The policy is
// controlled by [Pool.ReleaseEmptyArenas].
//
// # Memory safety
//
// Pool regions are pointer-free byte regions the garbage collector never
// scans. Store values in them, not pointers: a Go pointer written into
// pool memory keeps its referent alive no better than an integer would.
// All of the pool's own metadata is address-based for the same reason.
//
// A Pool is single-owner. Two goroutines sharing one pool must serialise
// all calls; two distinct pools need no coordination, even when both use
// the shared [DefaultPageAllocator].
//
// # Usage
//
//	pool := mempool.NewPool(mempool.MinPageSize, nil, nil)
//
//	p := mempool.New(pool, int32(42))
//	// ... use *p ...
//	mempool.Free(pool, p)
//
//	buf := pool.Alloc(1 << 20)
//	// ... use the 1 MiB block ...
//	pool.Free(buf)
//
//	pool.Clear() // everything back to the page allocator
package mempool
