package hoard

import "unsafe"

// fixedArena is a free-list allocator for small, fixed-size, pointer-free
// records, grounded directly on _examples/wenfang-golang1.6-src/src/runtime/mfixalloc.go's
// fixalloc: "Malloc uses a FixAlloc wrapped around sysAlloc to manage its
// MCache and MSpan objects." hoard's Page Source needs the identical trick
// for a different reason spec.md §4.1 spells out explicitly: "The map's
// internal storage is allocated from a private bump/freelist over
// page-source memory so it cannot recurse into the main allocator." Records
// kept here (grantRecord: two uintptr fields, no pointers) are safe to
// live in raw, non-GC'd memory obtained straight from the OS, exactly like
// the teacher's persistentalloc-backed chunks.
type fixedArena struct {
	recordSize uintptr
	free       unsafe.Pointer // head of freelist; first word is next pointer
	chunk      unsafe.Pointer
	chunkLeft  uintptr
}

const fixedArenaChunkBytes = 16 * 1024

func newFixedArena(recordSize uintptr) *fixedArena {
	if recordSize < unsafe.Sizeof(uintptr(0)) {
		recordSize = unsafe.Sizeof(uintptr(0))
	}
	return &fixedArena{recordSize: recordSize}
}

func (f *fixedArena) alloc() unsafe.Pointer {
	if f.free != nil {
		p := f.free
		f.free = *(*unsafe.Pointer)(p)
		return p
	}
	if f.chunkLeft < f.recordSize {
		addr, err := rawMmap(fixedArenaChunkBytes)
		if err != nil {
			return nil
		}
		f.chunk = unsafe.Pointer(addr)
		f.chunkLeft = fixedArenaChunkBytes
	}
	p := f.chunk
	f.chunk = unsafe.Pointer(uintptr(f.chunk) + f.recordSize)
	f.chunkLeft -= f.recordSize
	return p
}

func (f *fixedArena) free_(p unsafe.Pointer) {
	*(*unsafe.Pointer)(p) = f.free
	f.free = p
}
