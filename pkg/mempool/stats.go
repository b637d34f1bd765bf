//go:build go1.23

package mempool

import (
	"fmt"
	"strings"
	"time"

	"github.com/flier/mempool/internal/xsync"
)

// Regime identifies one of the three dispatch paths a request can take.
type Regime int

const (
	RegimeSmall Regime = iota
	RegimeMedium
	RegimeLarge

	regimeCount
)

func (r Regime) String() string {
	switch r {
	case RegimeSmall:
		return "small"
	case RegimeMedium:
		return "medium"
	case RegimeLarge:
		return "large"
	default:
		return fmt.Sprintf("regime(%d)", int(r))
	}
}

// RegimeStats carries the per-regime counters. Allocations through
// FreedBytes are monotonic; the rest are gauges that return to their
// prior values once every allocation is paired with a free.
type RegimeStats struct {
	Allocations    uint64
	AllocatedBytes uint64
	Frees          uint64
	FreedBytes     uint64

	InUse      int // blocks currently handed out
	InUseBytes int // bytes currently handed out, headers included
	Arenas     int // regions currently held; individual blocks for large
	ArenaBytes int
}

// Statistics is the pool's instrumentation block. Counters are always
// maintained; the wall-clock timers are only advanced in builds with the
// debug tag, where their cost is acceptable.
//
// The pool is single-owner, so reading while another goroutine allocates
// is as racy as allocating from two goroutines would be.
type Statistics struct {
	Regimes [regimeCount]RegimeStats

	AllocTime time.Duration
	FreeTime  time.Duration
}

func (s *Statistics) blockAllocated(r Regime, size int) {
	st := &s.Regimes[r]
	st.Allocations++
	st.AllocatedBytes += uint64(size)
	st.InUse++
	st.InUseBytes += size
}

func (s *Statistics) blockFreed(r Regime, size int) {
	st := &s.Regimes[r]
	st.Frees++
	st.FreedBytes += uint64(size)
	st.InUse--
	st.InUseBytes -= size
}

func (s *Statistics) arenaCreated(r Regime, size int) {
	st := &s.Regimes[r]
	st.Arenas++
	st.ArenaBytes += size
}

func (s *Statistics) arenaReleased(r Regime, size int) {
	st := &s.Regimes[r]
	st.Arenas--
	st.ArenaBytes -= size
}

func (s *Statistics) reset() {
	*s = Statistics{}
}

var reportPool = xsync.Pool[strings.Builder]{
	Reset: func(b *strings.Builder) { b.Reset() },
}

// String renders a human-readable snapshot of the counters.
func (s *Statistics) String() string {
	b := reportPool.Get()
	defer reportPool.Put(b)

	fmt.Fprintf(b, "pool statistics\n")
	fmt.Fprintf(b, "  time alloc/free (ms): %.3f/%.3f\n",
		float64(s.AllocTime.Microseconds())/1000.0,
		float64(s.FreeTime.Microseconds())/1000.0)

	var count, bytes uint64
	for r := range regimeCount {
		count += s.Regimes[r].Allocations
		bytes += s.Regimes[r].AllocatedBytes
	}
	fmt.Fprintf(b, "  allocations: %d, bytes: %d\n", count, bytes)

	for r := range regimeCount {
		st := &s.Regimes[r]
		fmt.Fprintf(b, "  %-6s blocks in use/total: %d/%d, bytes in use/total: %d/%d, arenas: %d (%d b)\n",
			r, st.InUse, st.Allocations, st.InUseBytes, st.AllocatedBytes, st.Arenas, st.ArenaBytes)
	}

	return b.String()
}
