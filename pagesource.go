package hoard

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// PageSource is spec.md §4.1's contract: map(n) / release(p, n), plus an
// aligned-map variant for Superblocks. It is kept as an interface (spec.md
// §1 lists "the platform page-level memory source" among the external
// collaborators hoard only describes by the interface it uses), with
// osPageSource the one concrete implementation, backed by rawMmap/rawMunmap
// (mmap_unix.go / mmap_other.go).
type PageSource interface {
	// Map returns a region of at least n bytes, rounded up to the OS page
	// size, zero-initialised, aligned at least to the page size.
	Map(n uintptr) (unsafe.Pointer, error)
	// MapAligned returns a region of at least n bytes whose base address is
	// a multiple of align (spec.md: implemented by over-mapping by align,
	// trimming the unaligned prefix and the leftover suffix).
	MapAligned(n, align uintptr) (unsafe.Pointer, error)
	// Release returns a region obtained from Map or MapAligned.
	Release(p unsafe.Pointer, n uintptr) error
}

const pageSize = 4096

func roundUpPage(n uintptr) uintptr {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// osPageSource is the default PageSource, grounded on the aligned-mapping
// recipe in spec.md §4.1. The bookkeeping map from "address we handed out"
// to "bytes actually mmap'd" (needed because MapAligned trims the raw
// mapping before returning it) lives in a fixedArena-backed table exactly
// as spec.md asks: "allocated from a private bump/freelist over page-source
// memory so it cannot recurse into the main allocator."
type osPageSource struct {
	mu      sync.Mutex
	arena   *fixedArena
	grants  map[uintptr]*grantRecord // keyed by the address returned to the caller
	mapped  uintptr                  // bytes currently outstanding, for diagnostics
}

type grantRecord struct {
	rawBase uintptr
	rawLen  uintptr
}

func newOSPageSource() *osPageSource {
	return &osPageSource{
		arena:  newFixedArena(unsafe.Sizeof(grantRecord{})),
		grants: make(map[uintptr]*grantRecord),
	}
}

func (ps *osPageSource) Map(n uintptr) (unsafe.Pointer, error) {
	n = roundUpPage(n)
	addr, err := rawMmap(n)
	if err != nil {
		return nil, errors.Wrap(err, "hoard: page source map failed")
	}
	ps.record(addr, addr, n)
	return unsafe.Pointer(addr), nil
}

// MapAligned implements spec.md §4.1's recipe verbatim: map n+align bytes,
// trim the unaligned prefix and the remaining suffix, record the granted
// size so Release knows the exact length to pass back to the OS.
func (ps *osPageSource) MapAligned(n, align uintptr) (unsafe.Pointer, error) {
	n = roundUpPage(n)
	if align == 0 || align&(align-1) != 0 {
		return nil, errors.Errorf("hoard: alignment %d is not a power of two", align)
	}
	rawLen := n + align
	rawBase, err := rawMmap(rawLen)
	if err != nil {
		return nil, errors.Wrap(err, "hoard: aligned page source map failed")
	}

	aligned := (rawBase + align - 1) &^ (align - 1)
	prefix := aligned - rawBase
	suffix := rawLen - prefix - n

	if prefix > 0 {
		if err := rawMunmap(rawBase, prefix); err != nil {
			_ = rawMunmap(rawBase, rawLen)
			return nil, errors.Wrap(err, "hoard: trimming aligned map prefix failed")
		}
	}
	if suffix > 0 {
		if err := rawMunmap(aligned+n, suffix); err != nil {
			_ = rawMunmap(aligned, n)
			return nil, errors.Wrap(err, "hoard: trimming aligned map suffix failed")
		}
	}

	ps.record(aligned, aligned, n)
	return unsafe.Pointer(aligned), nil
}

func (ps *osPageSource) record(key, rawBase, rawLen uintptr) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	rp := ps.arena.alloc()
	rec := (*grantRecord)(rp)
	rec.rawBase = rawBase
	rec.rawLen = rawLen
	ps.grants[key] = rec
	ps.mapped += rawLen
}

func (ps *osPageSource) Release(p unsafe.Pointer, n uintptr) error {
	key := uintptr(p)
	ps.mu.Lock()
	rec, ok := ps.grants[key]
	if !ok {
		ps.mu.Unlock()
		return errors.Errorf("hoard: release of untracked region %x", key)
	}
	delete(ps.grants, key)
	ps.mapped -= rec.rawLen
	rawBase, rawLen := rec.rawBase, rec.rawLen
	ps.arena.free_(unsafe.Pointer(rec))
	ps.mu.Unlock()
	return rawMunmap(rawBase, rawLen)
}

// BytesMapped reports bytes currently outstanding from this source, used by
// the Global Heap's bytesHeld (globalheap.go) for CollectStats.
func (ps *osPageSource) BytesMapped() uintptr {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.mapped
}

var defaultPageSource = newOSPageSource()
