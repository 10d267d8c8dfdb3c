package hoard

import (
	"sync/atomic"
	"unsafe"
)

// magicSuperblock guards against masking an arbitrary pointer into a
// registry hit for an address that happens to collide with a live
// Superblock base (spec.md §4.2: "validates magic"). It is not a security
// boundary, only a sanity check, matching spec.md §7's InvalidFree
// taxonomy.
const magicSuperblock uint32 = 0x686f6172 // "hoar"

// EmptinessClasses is K in spec.md §3/§4.3: the number of emptiness rings
// a size-class bin keeps, from "almost empty" (0) to "full" (K-1).
const EmptinessClasses = 8

// ownerKind distinguishes which structure currently owns a Superblock.
// spec.md §3: "owner — current owning PPH (or the Global Heap)".
type ownerKind uint8

const (
	ownerNone ownerKind = iota
	ownerGlobalHeap
	ownerPPH
)

// ownerRef is the Superblock.owner field. It is stored behind an
// atomic.Value so a freeing thread can read it once, lock-free, before the
// double-locked validation spec.md §5 describes ("Atomic loads/stores with
// acquire/release fences are used where a header field (e.g., owner) is
// inspected outside a lock before the double-locked validation").
type ownerRef struct {
	kind ownerKind
	pph  *perProcessHeap
}

func (o ownerRef) sameAs(other ownerRef) bool {
	return o.kind == other.kind && o.pph == other.pph
}

func (o ownerRef) lock() {
	if o.kind == ownerPPH {
		o.pph.lock.Lock()
		return
	}
	globalHeapInstance.lock.Lock()
}

func (o ownerRef) unlock() {
	if o.kind == ownerPPH {
		o.pph.lock.Unlock()
		return
	}
	globalHeapInstance.lock.Unlock()
}

// superblock is the metadata side of spec.md §3's Superblock: a fixed-size,
// address-aligned region's header, kept as an ordinary Go struct (see
// registry.go) rather than embedded in the mapped bytes themselves.
//
// Grounded on _examples/wenfang-golang1.6-src/src/runtime/mheap.go's mspan (list_links ≈
// mspan.next/prev, used_count/total_count ≈ ref/layout()) and mcentral.go's
// two-list-per-bin membership, generalised from the teacher's fixed
// nonempty/empty split into spec.md's K emptiness rings.
type superblock struct {
	magic uint32

	base    uintptr // mapped, SuperblockSize-aligned region start
	payload uintptr // first slot address (base + headerReserve)

	sizeClass int32
	slotSize  int32
	total     int32 // total_count

	lock spinlock

	ownerVal atomic.Value // ownerRef

	freeList unsafe.Pointer // head of the in-slot singly linked free list
	used     int32          // used_count

	emptinessClass int32

	// list_links: intrusive membership in exactly one ring (either a PPH
	// bin's emptiness ring or the Global Heap's single empty-pool ring).
	prev, next *superblock

	unusedSince int64 // nanoseconds; set when used hits 0, for scavenging (see globalheap.go)
}

// headerReserve is how much of each mapped Superblock is set aside so the
// payload always starts at a slot-size-aligned offset; hoard keeps metadata
// out of band (registry.go) so this is purely alignment padding, not a
// struct-sized header.
const headerReserve = 64

func newSuperblock(base uintptr, sizeClass int32) *superblock {
	s := &superblock{
		magic:     magicSuperblock,
		base:      base,
		payload:   base + headerReserve,
		sizeClass: sizeClass,
		slotSize:  classToSizeOf(sizeClass),
		total:     classToObjectsOf(sizeClass),
	}
	s.ownerVal.Store(ownerRef{kind: ownerNone})
	s.buildFreeList()
	return s
}

// buildFreeList threads every slot into a singly linked free list using the
// "stored next-pointer inside the free slot" trick spec.md §9 calls out
// explicitly, matching mcentral.go's grow() (gclinkptr chain).
func (s *superblock) buildFreeList() {
	n := s.total
	if n <= 0 {
		s.freeList = nil
		return
	}
	size := uintptr(s.slotSize)
	var head, tail unsafe.Pointer
	p := s.payload
	for i := int32(0); i < n; i++ {
		slot := unsafe.Pointer(p)
		if head == nil {
			head = slot
		} else {
			*(*unsafe.Pointer)(tail) = slot
		}
		tail = slot
		p += size
	}
	*(*unsafe.Pointer)(tail) = nil
	s.freeList = head
	s.used = 0
}

func (s *superblock) owner() ownerRef       { return s.ownerVal.Load().(ownerRef) }
func (s *superblock) setOwner(o ownerRef)   { s.ownerVal.Store(o) }

// full reports whether every slot is checked out.
func (s *superblock) full() bool { return s.used >= s.total }

// empty reports whether every slot is free.
func (s *superblock) empty() bool { return s.used == 0 }

// allocSlot is spec.md §4.2's alloc_slot: O(1) pop of the free list head.
func (s *superblock) allocSlot() unsafe.Pointer {
	p := s.freeList
	if p == nil {
		return nil
	}
	s.freeList = *(*unsafe.Pointer)(p)
	s.used++
	s.recomputeEmptiness()
	return p
}

// freeSlot is spec.md §4.2's free_slot: O(1) push onto the free list.
func (s *superblock) freeSlot(p unsafe.Pointer) {
	*(*unsafe.Pointer)(p) = s.freeList
	s.freeList = p
	s.used--
	s.recomputeEmptiness()
	if s.used == 0 {
		s.unusedSince = monotonicNow()
	}
}

// recomputeEmptiness caches emptiness_class = floor(K * used / total),
// clamped into [0, K). Recomputed on every used_count change, per spec.md
// §4.3 step 4.
func (s *superblock) recomputeEmptiness() {
	if s.total == 0 {
		s.emptinessClass = EmptinessClasses - 1
		return
	}
	class := int32(EmptinessClasses) * s.used / s.total
	if class >= EmptinessClasses {
		class = EmptinessClasses - 1
	}
	if class < 0 {
		class = 0
	}
	s.emptinessClass = class
}

// slotIndexValid reports whether p is exactly a slot start within this
// Superblock's payload range, guarding against interior/foreign pointers
// before a free is honoured.
func (s *superblock) slotIndexValid(p uintptr) bool {
	if p < s.payload {
		return false
	}
	off := p - s.payload
	span := uintptr(s.slotSize) * uintptr(s.total)
	if off >= span {
		return false
	}
	return off%uintptr(s.slotSize) == 0
}

func (s *superblock) usableSize() int32 { return s.slotSize }

// containingSuperblock implements spec.md §4.2's Superblock.containing:
// mask p to the SuperblockSize alignment boundary, look the base up in the
// registry (registry.go's stand-in for the teacher's h_spans), and validate
// both the magic sentinel and that p lands on a real slot boundary.
func containingSuperblock(p unsafe.Pointer) *superblock {
	if p == nil {
		return nil
	}
	addr := uintptr(p)
	base := addr &^ uintptr(SuperblockSize-1)
	s, ok := superblockRegistry.Load(base)
	if !ok || s.magic != magicSuperblock {
		return nil
	}
	if !s.slotIndexValid(addr) {
		return nil
	}
	return s
}

var superblockRegistry = newRegistry[*superblock]()

func registerSuperblock(s *superblock)   { superblockRegistry.Store(s.base, s) }
func unregisterSuperblock(s *superblock) { superblockRegistry.Delete(s.base) }
