package hoard

import "unsafe"

// defaultTLABThreshold is L from spec.md §4.4: the byte budget a TLAB may
// hold onto before it must give blocks back through owner dispatch.
const defaultTLABThreshold = 256 * 1024

// TLAB is spec.md §3/§4.4's Thread-Local Allocation Buffer: per-class free
// lists of already-freed blocks a thread holds onto without touching its
// PerProcessHeap, plus the byte balance (localHeld) the threshold bounds.
// Grounded on _examples/wenfang-golang1.6-src/src/runtime/mcache.go's per-P alloc cache,
// generalised from the teacher's one-cached-span-per-class scheme into
// hoard's cached-objects-per-class scheme (spec.md's TLAB caches objects,
// not whole Superblocks, since the Superblock a TLAB's blocks come from may
// still be serving other threads through its owning PPH).
type TLAB struct {
	pph *perProcessHeap

	freeLists []unsafe.Pointer // head of free list per class; next pointer stored in-slot
	localHeld int64
	threshold int64
}

func newTLAB(pph *perProcessHeap, threshold int64) *TLAB {
	if threshold <= 0 {
		threshold = defaultTLABThreshold
	}
	return &TLAB{pph: pph, threshold: threshold, freeLists: make([]unsafe.Pointer, numSizeClasses)}
}

func (t *TLAB) popLocal(class int32) unsafe.Pointer {
	p := t.freeLists[class]
	if p == nil {
		return nil
	}
	t.freeLists[class] = *(*unsafe.Pointer)(p)
	t.localHeld -= int64(classToSizeOf(class))
	return p
}

func (t *TLAB) pushLocal(class int32, p unsafe.Pointer) {
	*(*unsafe.Pointer)(p) = t.freeLists[class]
	t.freeLists[class] = p
	t.localHeld += int64(classToSizeOf(class))
}

// Allocate is spec.md §4.4's TLAB.allocate(sz): round to a size class, serve
// from the local cache if one exists there, otherwise request exactly one
// object from the bound PerProcessHeap. Requests above LargestSmall() bypass
// the TLAB entirely and go straight to the large-object engine (spec.md
// §4.6), which is not thread-cached.
func (t *TLAB) Allocate(size int32) unsafe.Pointer {
	class := classify(size)
	if class == 0 {
		return largeObjectPoolInstance.allocate(size)
	}
	if p := t.popLocal(class); p != nil {
		return p
	}
	return t.pph.allocate(class)
}

// AllocateAligned serves an over-aligned request. Every slot start is
// minObjectSize-aligned, so an alignment of up to minObjectSize bytes takes
// the ordinary Allocate path; anything stricter is routed straight to a
// fresh, exactly-aligned, page-rounded mapping, bypassing both the TLAB and
// the large-object cache, since a cached header from the free-list reuse
// path is not guaranteed to satisfy a caller-chosen alignment.
func (t *TLAB) AllocateAligned(alignment, size int32) unsafe.Pointer {
	if alignment <= minObjectSize {
		return t.Allocate(size)
	}
	n := roundUpPage(uintptr(size))
	p, err := defaultPageSource.MapAligned(n, uintptr(alignment))
	if err != nil {
		if globalHeapInstance.errorCallback != nil {
			globalHeapInstance.errorCallback("hoard: out of memory allocating aligned object: " + err.Error())
		}
		return nil
	}
	h := &largeHeader{
		magic:      magicLarge,
		classIndex: uncachedLargeClass,
		classSize:  int32(n),
		exactSize:  size,
		base:       uintptr(p),
		mappedLen:  n,
	}
	largeRegistry.Store(h.base, h)
	addLargeLive(1, int64(n))
	return p
}

// Deallocate is spec.md §4.4's TLAB.free(p): validate p, cache it locally,
// and if that puts localHeld over the threshold, drain the largest classes
// (p's own class included) down to half the threshold. spec.md §2 only grants the TLAB
// fast path a short-circuit around owner dispatch "for objects whose
// Superblock is owned by the freeing thread's PPH"; a pointer whose
// Superblock belongs to a different PPH (or to the Global Heap, or to
// neither, mid-handoff) must go straight through freeObjectToOwner instead
// of sitting in this TLAB's cache, since it is the origin PPH's
// bytesInUse/emptiness-class that the free is supposed to relieve, not this
// thread's.
func (t *TLAB) Deallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if h := containingLarge(p); h != nil {
		largeObjectPoolInstance.free(h)
		return
	}
	s := containingSuperblock(p)
	if s == nil {
		if globalHeapInstance.errorCallback != nil {
			globalHeapInstance.errorCallback("hoard: invalid free: pointer does not belong to any live allocation")
		}
		return
	}
	if !s.owner().sameAs(ownerRef{kind: ownerPPH, pph: t.pph}) {
		freeObjectToOwner(s, p)
		return
	}
	t.pushLocal(s.sizeClass, p)
	if t.localHeld > t.threshold {
		t.drain(t.threshold / 2)
	}
}

// UsableSize reports the slot or large-object size backing p, or -1 if p is
// not a live allocation from this allocator.
func (t *TLAB) UsableSize(p unsafe.Pointer) int32 {
	return usableSize(p)
}

// drain gives blocks back through owner dispatch, largest classes first
// (the largest classes hold the most bytes per block, so they retire the
// balance fastest), until localHeld falls to target.
func (t *TLAB) drain(target int64) {
	var drained int64
	for class := numSizeClasses - 1; class > 0 && t.localHeld > target; class-- {
		size := int64(classToSizeOf(class))
		for t.freeLists[class] != nil && t.localHeld > target {
			p := t.popLocal(class)
			if s := containingSuperblock(p); s != nil {
				freeObjectToOwner(s, p)
				drained += size
			}
		}
	}
	if drained > 0 && globalHeapInstance.sink != nil {
		globalHeapInstance.sink.TLABDrain(drained)
	}
}

// drainAll empties every local free list, used by ThreadFinalize so no
// thread's cache keeps a Superblock from ever being reclaimed.
func (t *TLAB) drainAll() {
	t.drain(0)
}
