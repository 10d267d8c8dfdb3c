package hoard

// superblockRing is an intrusive doubly linked list of Superblocks, grounded
// on _examples/wenfang-golang1.6-src/src/runtime/mheap.go's mSpanList ("based on BSD's 'tail
// queue' data structure"). spec.md §4.3 generalises the teacher's fixed
// two-list (nonempty/empty) mcentral bin into K emptiness rings; this type
// is the single building block both the PPH bins (ringBin) and the Global
// Heap's empty pool (globalheap.go) reuse.
type superblockRing struct {
	first, last *superblock
}

func (l *superblockRing) insertFront(s *superblock) {
	s.prev = nil
	s.next = l.first
	if l.first != nil {
		l.first.prev = s
	}
	l.first = s
	if l.last == nil {
		l.last = s
	}
}

func (l *superblockRing) insertBack(s *superblock) {
	s.next = nil
	s.prev = l.last
	if l.last != nil {
		l.last.next = s
	}
	l.last = s
	if l.first == nil {
		l.first = s
	}
}

func (l *superblockRing) remove(s *superblock) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.first = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.last = s.prev
	}
	s.prev, s.next = nil, nil
}

func (l *superblockRing) empty() bool { return l.first == nil }

// ringBin is one PPH size-class bin: EmptinessClasses rings plus the
// "manage-one" cached current Superblock (spec.md §3's "pointer to the
// currently-cached superblock per size class").
type ringBin struct {
	rings   [EmptinessClasses]superblockRing
	current *superblock
}

// relocate moves s out of whatever ring it is currently recorded against
// (oldClass, -1 if none yet) and into the ring matching its freshly
// recomputed emptiness class. Spec.md §4.3 step 4: "On every state change
// of a superblock's used_count, recompute its emptiness class and relocate
// it to the correct ring."
func (b *ringBin) relocate(s *superblock, oldClass int32) {
	if oldClass >= 0 {
		b.rings[oldClass].remove(s)
	}
	b.rings[s.emptinessClass].insertBack(s)
}

// pickForAllocation implements spec.md §4.3 step 2: scan from "fullest
// non-full" toward "emptiest" and take the first non-empty Superblock. The
// fullest ring is EmptinessClasses-1; a Superblock there may still be full
// (every slot taken), so skip to the next ring down until one with a free
// slot is found.
func (b *ringBin) pickForAllocation() *superblock {
	for class := EmptinessClasses - 1; class >= 0; class-- {
		for s := b.rings[class].last; s != nil; s = s.prev {
			if !s.full() {
				return s
			}
		}
	}
	return nil
}
