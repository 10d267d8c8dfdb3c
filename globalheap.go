package hoard

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// globalHeap is spec.md §3/§4.5's Global Heap: the single, process-wide pool
// of empty Superblocks mediating between every PerProcessHeap and the Page
// Source. Grounded on _examples/wenfang-golang1.6-src/src/runtime/mheap.go's free/freelarge
// lists and scavenge() (time-windowed release), collapsed from the
// teacher's per-length free-list array down to one ring plus a count, since
// hoard's Superblocks are a single fixed size (spec.md §3) rather than the
// teacher's variable page-run spans.
type globalHeap struct {
	lock spinlock

	pageSource PageSource

	empty      superblockRing
	emptyCount int32
	minted     int32
	released   int32
	peakLive   int32

	errorCallback ErrorCallback
	sink          StatsSink

	minSlop      int32
	slopFraction float64
	scavengeIdle time.Duration

	stop chan struct{}
}

var globalHeapInstance = &globalHeap{
	pageSource:   defaultPageSource,
	minSlop:      16,
	slopFraction: 0.25,
	scavengeIdle: 30 * time.Second,
}

func (g *globalHeap) configure(cfg Config) {
	g.pageSource = defaultPageSource
	g.errorCallback = cfg.errorCallbackOrDefault()
	g.sink = cfg.statsSinkOrDefault()
	if cfg.MinSlopSuperblocks > 0 {
		g.minSlop = cfg.MinSlopSuperblocks
	}
	if cfg.SlopFraction > 0 {
		g.slopFraction = cfg.SlopFraction
	}
	if cfg.ScavengeIdle > 0 {
		g.scavengeIdle = cfg.ScavengeIdle
	}
}

// mint maps a fresh, SuperblockSize-aligned region from the Page Source and
// builds a Superblock header for it. Mirrors mheap.go's grow()/sysAlloc
// path, but via MapAligned directly since hoard has no separate arena
// bitmap to extend.
func (g *globalHeap) mint(class int32) *superblock {
	p, err := g.pageSource.MapAligned(SuperblockSize, SuperblockSize)
	if err != nil {
		if g.errorCallback != nil {
			g.errorCallback("hoard: out of memory minting superblock: " + err.Error())
		}
		return nil
	}
	s := newSuperblock(uintptr(p), class)
	registerSuperblock(s)
	atomic.AddInt32(&g.minted, 1)
	return s
}

// acquire is spec.md §4.5's acquire(class c): pop an empty Superblock (or
// mint one via the Page Source), initialise it for class c if it is
// uninitialised or carries another class, and hand it to caller already
// owned by caller.
func (g *globalHeap) acquire(class int32, caller *perProcessHeap) *superblock {
	g.lock.Lock()
	s := g.empty.first
	if s != nil {
		g.empty.remove(s)
		g.emptyCount--
	}
	g.lock.Unlock()

	if s == nil {
		s = g.mint(class)
		if s == nil {
			return nil
		}
		if g.sink != nil {
			g.sink.SuperblockMinted()
		}
	} else if s.sizeClass != class {
		s.sizeClass = class
		s.slotSize = classToSizeOf(class)
		s.total = classToObjectsOf(class)
		s.buildFreeList()
	} else if s.freeList == nil {
		s.buildFreeList()
	}

	s.setOwner(ownerRef{kind: ownerPPH, pph: caller})

	g.lock.Lock()
	live := g.minted - g.emptyCount
	if live > g.peakLive {
		g.peakLive = live
	}
	g.lock.Unlock()

	return s
}

// release is spec.md §4.5's release(s): push s into the empty pool and, if
// the pool now exceeds the slop bound, trim the oldest-idle surplus back to
// the Page Source. The bound is spec.md §4.5's "max(constant, fraction ×
// max_live_ever)", made concrete in SPEC_FULL.md's Global Heap supplement.
func (g *globalHeap) release(s *superblock) {
	s.setOwner(ownerRef{kind: ownerGlobalHeap})
	s.unusedSince = monotonicNow()

	g.lock.Lock()
	g.empty.insertBack(s)
	g.emptyCount++
	victims := g.collectSurplusLocked()
	g.lock.Unlock()

	g.evict(victims)
}

func (g *globalHeap) slopBound() int32 {
	bound := int32(float64(g.peakLive) * g.slopFraction)
	if bound < g.minSlop {
		bound = g.minSlop
	}
	return bound
}

// collectSurplusLocked must be called with g.lock held. It detaches (but
// does not unmap) Superblocks beyond the slop bound, oldest-idle first, so
// the actual Release(s) to the Page Source can happen without holding the
// Global Heap lock across a syscall.
func (g *globalHeap) collectSurplusLocked() []*superblock {
	bound := g.slopBound()
	var victims []*superblock
	for g.emptyCount > bound {
		s := g.empty.first
		if s == nil {
			break
		}
		g.empty.remove(s)
		g.emptyCount--
		victims = append(victims, s)
	}
	return victims
}

func (g *globalHeap) evict(victims []*superblock) {
	for _, s := range victims {
		unregisterSuperblock(s)
		_ = g.pageSource.Release(unsafe.Pointer(s.base), SuperblockSize)
		atomic.AddInt32(&g.minted, -1)
		atomic.AddInt32(&g.released, 1)
		if g.sink != nil {
			g.sink.SuperblockReleased()
		}
	}
}

// scavenge is the periodic, idle-time counterpart to the eager trim in
// release(): a Superblock sitting empty past scavengeIdle is released even
// if the pool is under the slop-bound count, matching
// _examples/wenfang-golang1.6-src/src/runtime/mheap.go's scavenge() semantics (time-windowed
// rather than purely count-windowed).
func (g *globalHeap) scavenge() {
	now := monotonicNow()
	idleNanos := int64(g.scavengeIdle)

	g.lock.Lock()
	var victims []*superblock
	for s := g.empty.first; s != nil; {
		next := s.next
		if now-s.unusedSince > idleNanos {
			g.empty.remove(s)
			g.emptyCount--
			victims = append(victims, s)
		}
		s = next
	}
	g.lock.Unlock()

	g.evict(victims)
}

func (g *globalHeap) startScavenger() {
	g.stop = make(chan struct{})
	ticker := time.NewTicker(g.scavengeIdle / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.scavenge()
			case <-g.stop:
				return
			}
		}
	}()
}

func (g *globalHeap) stopScavenger() {
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

// bytesHeld reports every byte currently mapped from the default Page Source
// (Superblocks, large objects and aligned mappings alike), used by
// CollectStats().
func (g *globalHeap) bytesHeld() uintptr {
	if ps, ok := g.pageSource.(*osPageSource); ok {
		return ps.BytesMapped()
	}
	return 0
}
