package hoard

import (
	"runtime"
	"sync"
	"sync/atomic"
)

func numCPU() int { return runtime.GOMAXPROCS(0) }

// anonymousTLABPool is SPEC_FULL.md's resolution for callers that allocate
// or free without ever calling ThreadInitialize: spec.md §9 leaves thread
// identity as an open question, and Go exposes no portable, stable handle to
// hash a goroutine against a PerProcessHeap. Rather than parse
// runtime.Stack() output to fake one, package-level Allocate/Deallocate
// round-robin over a small fixed pool of TLABs (Config.AnonymousTLABs of
// them, by default one per PerProcessHeap),
// grounded on other_examples/shockwave's percpu_pools.go per-CPU sync.Pool
// sharding (fixed-size pool indexed by a counter, not keyed to the calling
// goroutine).
// anonymousSlot pairs one pooled TLAB with a lock. A TLAB's free lists are
// unsynchronised by design (spec.md §4.4: "the TLAB is single-threaded by
// construction; no locks are taken on TLAB-local operations"), which holds
// for the ThreadInitialize handle API where one goroutine owns one TLAB.
// The round-robin pool below breaks that assumption on purpose (a fixed
// number of TLABs shared by an unbounded number of anonymous callers), so
// each slot carries its own lock held for the duration of the call instead
// of pushing synchronisation into TLAB itself.
type anonymousSlot struct {
	lock spinlock
	tlab *TLAB
}

type anonymousTLABPool struct {
	mu    sync.Mutex
	slots []*anonymousSlot
	next_ uint64
}

var anonymousTLABs anonymousTLABPool

func (a *anonymousTLABPool) init(n int, threshold int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 {
		n = 1
	}
	a.slots = make([]*anonymousSlot, n)
	for i := range a.slots {
		a.slots[i] = &anonymousSlot{tlab: newTLAB(heaps[i%len(heaps)], threshold)}
	}
	atomic.StoreUint64(&a.next_, 0)
}

func (a *anonymousTLABPool) next() *anonymousSlot {
	a.mu.Lock()
	slots := a.slots
	a.mu.Unlock()
	idx := atomic.AddUint64(&a.next_, 1) - 1
	return slots[idx%uint64(len(slots))]
}

func (a *anonymousTLABPool) drainAll() {
	a.mu.Lock()
	slots := a.slots
	a.mu.Unlock()
	for _, s := range slots {
		s.lock.Lock()
		s.tlab.drainAll()
		s.lock.Unlock()
	}
}
