package hoard

import "unsafe"

// maxOwnerRetries bounds the cross-heap ownership-change retry loop
// (spec.md §9's second open question): "An implementer should assert
// termination within two iterations and report deadlock-like conditions
// via the error callback if it ever exceeds a sanity bound." Eight is a
// generous multiple of the documented two-iteration expectation.
const maxOwnerRetries = 8

// perProcessHeap is spec.md §3/§4.3's PPH: an array of size-class bins,
// each a ringBin, plus byte counters used by the reclamation predicate.
// Grounded on _examples/wenfang-golang1.6-src/src/runtime/mheap.go's per-size-class
// `central [_NumSizeClasses]struct{ mcentral mcentral; pad [...]byte }`
// array, generalised from the teacher's fixed two-list mcentral into
// spec.md's K-ring bins (rings.go).
type perProcessHeap struct {
	id int32

	lock spinlock
	bins []ringBin

	bytesInUse int64 // U: bytes in use across all classes
	bytesHeld  int64 // A: bytes held (superblocks × SuperblockSize)
}

func newPerProcessHeap(id int32) *perProcessHeap {
	return &perProcessHeap{
		id:   id,
		bins: make([]ringBin, numSizeClasses),
	}
}

// tryServeLocked attempts to serve one slot of class c from bin.current or
// one of its rings. Caller must hold h.lock.
func (h *perProcessHeap) tryServeLocked(bin *ringBin) unsafe.Pointer {
	if bin.current != nil {
		if p := bin.current.allocSlot(); p != nil {
			h.bytesInUse += int64(bin.current.slotSize)
			return p
		}
		// Current is exhausted (spec.md §4.3 step 1 miss): park it in its
		// ring (now the fullest, emptinessClass K-1) before replacing it.
		bin.rings[bin.current.emptinessClass].insertBack(bin.current)
		bin.current = nil
	}
	if s := bin.pickForAllocation(); s != nil {
		bin.rings[s.emptinessClass].remove(s)
		bin.current = s
		p := s.allocSlot()
		h.bytesInUse += int64(s.slotSize)
		return p
	}
	return nil
}

// allocate is spec.md §4.3's Algorithm, allocate(class c).
func (h *perProcessHeap) allocate(class int32) unsafe.Pointer {
	bin := &h.bins[class]

	h.lock.Lock()
	if p := h.tryServeLocked(bin); p != nil {
		h.lock.Unlock()
		return p
	}
	h.lock.Unlock()

	// Step 3: bin is empty, ask the Global Heap (which mints via the Page
	// Source on its own miss).
	s := globalHeapInstance.acquire(class, h)
	if s == nil {
		return nil
	}

	h.lock.Lock()
	h.bytesHeld += int64(SuperblockSize)
	bin.rings[s.emptinessClass].insertBack(s)
	p := h.tryServeLocked(bin)
	h.lock.Unlock()
	return p
}

// shouldReclaim evaluates spec.md §4.3's Hoard emptiness-threshold
// reclamation predicate:
//
//	K·U < (K-1)·A   AND   U < A − 2·S / object_size
//
// restricted to Superblocks that are actually empty, per spec.md §3's
// invariant "a superblock with used_count == 0 appears in the Global Heap
// or is released" (the Global Heap never holds a partially-used block).
func (h *perProcessHeap) shouldReclaim(s *superblock) bool {
	if !s.empty() {
		return false
	}
	if h.bytesHeld == 0 {
		return false
	}
	K := int64(EmptinessClasses)
	U := h.bytesInUse
	A := h.bytesHeld
	lhs := K*U < (K-1)*A
	rhs := U < A-2*int64(SuperblockSize)/int64(s.slotSize)
	return lhs && rhs
}

// freeObjectToOwner is the shared owner-dispatch free path spec.md §4.3's
// Algorithm, free(p) describes, and the one piece of code any thread runs
// regardless of which PPH it is bound to — the whole point of spec.md §1's
// "ownership/handoff protocol that lets any thread free any object."
//
// Lock order is superblock → owner-heap throughout (spec.md §5), held as a
// single nested critical section rather than released and re-acquired,
// since no other path in this package ever holds both locks in the
// opposite order (allocate above only ever takes h.lock).
func freeObjectToOwner(s *superblock, p unsafe.Pointer) {
	s.lock.Lock()
	o := s.owner()

	attempt := 0
	for {
		o.lock()
		if s.owner().sameAs(o) {
			break
		}
		o.unlock()
		attempt++
		if attempt >= maxOwnerRetries {
			s.lock.Unlock()
			reportOwnerDispatchStuck(s)
			return
		}
		o = s.owner()
	}

	oldClass := s.emptinessClass
	s.freeSlot(p)

	if o.kind == ownerPPH {
		h := o.pph
		h.bytesInUse -= int64(s.slotSize)
		bin := &h.bins[s.sizeClass]
		if bin.current != s {
			bin.relocate(s, oldClass)
		}
		if h.shouldReclaim(s) {
			if bin.current == s {
				bin.current = nil
			} else {
				bin.rings[s.emptinessClass].remove(s)
			}
			h.bytesHeld -= int64(SuperblockSize)
			o.unlock()
			s.lock.Unlock()
			globalHeapInstance.release(s)
			return
		}
	}

	o.unlock()
	s.lock.Unlock()
}

func reportOwnerDispatchStuck(s *superblock) {
	if globalHeapInstance.errorCallback != nil {
		globalHeapInstance.errorCallback("hoard: owner dispatch for superblock exceeded retry bound; possible deadlock-like condition")
	}
}

// drainToGlobal is used by Finalize: release every
// Superblock this PPH still owns back to the Global Heap, regardless of
// occupancy (teardown ignores the reclamation predicate — spec.md §9's
// teardown ordering: "process finalisation drains PPHs into the Global
// Heap").
func (h *perProcessHeap) drainToGlobal() {
	h.lock.Lock()
	var victims []*superblock
	for i := range h.bins {
		bin := &h.bins[i]
		if bin.current != nil {
			victims = append(victims, bin.current)
			bin.current = nil
		}
		for class := 0; class < EmptinessClasses; class++ {
			ring := &bin.rings[class]
			for s := ring.first; s != nil; {
				next := s.next
				ring.remove(s)
				victims = append(victims, s)
				s = next
			}
		}
	}
	h.bytesInUse = 0
	h.bytesHeld = 0
	h.lock.Unlock()

	for _, s := range victims {
		globalHeapInstance.release(s)
	}
}
