package hoard

import (
	"math"
	"unsafe"
)

// magicLarge distinguishes a large-object header from a Superblock one in
// the registry (registry.go), even though the two live in separate tables
// keyed differently (exact pointer vs. masked base) — see usableSize() in
// allocator.go and TLAB.Deallocate in tlab.go for the dispatch order.
const magicLarge uint32 = 0x686c6167 // "hlag"

// largeClassAlignment (A) and largeClassRatio (1+ε) are spec.md §4.6's
// geometric size-class schedule: c_i = ceil((1+ε)^i · A), ε ≈ 20%.
const (
	largeClassAlignment = 4096.0
	largeClassRatio     = 1.2

	// largeSlopFraction is ε′ from spec.md §4.6: cached large objects are
	// released once held bytes exceed (1 + ε′) × live bytes.
	largeSlopFraction = 0.5
)

// uncachedLargeClass marks a largeHeader minted for a caller-chosen
// alignment (TLAB.AllocateAligned): its mapped length is exactly whatever
// that caller asked for, not one of the geometric classes, so it must never
// be handed back out of the class free lists on a future allocate.
const uncachedLargeClass = -1

// largeHeader is spec.md §4.6's "header that mimics the superblock header
// layout" — kept out of band for the same GC-safety reason superblock
// metadata is (registry.go), so "mimics the layout" here means "carries the
// same owner-dispatch information", not byte-identical struct layout.
type largeHeader struct {
	magic      uint32
	classIndex int32
	classSize  int32
	exactSize  int32
	base       uintptr
	mappedLen  uintptr
}

var largeRegistry = newRegistry[*largeHeader]()

func classifyLarge(size int32) (classIndex, classSize int32) {
	if size <= largestSmall {
		size = largestSmall + 1
	}
	classSize = int32(largeClassAlignment)
	for float64(classSize) < float64(size) {
		classIndex++
		classSize = int32(math.Ceil(math.Pow(largeClassRatio, float64(classIndex)) * largeClassAlignment))
	}
	return classIndex, classSize
}

// largeObjectPool is spec.md §4.6's large-object engine: one process-wide
// segregated pool keyed by the geometric schedule. Grounded on
// _examples/wenfang-golang1.6-src/src/runtime/mheap.go's freelarge/busylarge split, adapted
// from the teacher's page-run-length keying to hoard's ceil((1+ε)^i·A)
// classes.
type largeObjectPool struct {
	lock spinlock

	pageSource    PageSource
	errorCallback ErrorCallback
	sink          StatsSink

	classes     map[int32][]*largeHeader
	liveBytes   int64
	cachedBytes int64
}

var largeObjectPoolInstance = &largeObjectPool{
	pageSource: defaultPageSource,
	classes:    make(map[int32][]*largeHeader),
}

func (lp *largeObjectPool) configure(cfg Config) {
	lp.pageSource = defaultPageSource
	lp.errorCallback = cfg.errorCallbackOrDefault()
	lp.sink = cfg.statsSinkOrDefault()
}

// allocate is spec.md §4.6's entry point for any request over
// LargestSmall(): serve from the matching class's free list, or map a fresh
// region from the Page Source.
func (lp *largeObjectPool) allocate(size int32) unsafe.Pointer {
	classIndex, classSize := classifyLarge(size)

	lp.lock.Lock()
	list := lp.classes[classIndex]
	if n := len(list); n > 0 {
		h := list[n-1]
		lp.classes[classIndex] = list[:n-1]
		lp.cachedBytes -= int64(classSize)
		lp.liveBytes += int64(classSize)
		h.exactSize = size
		lp.lock.Unlock()
		addLargeLive(1, int64(classSize))
		return unsafe.Pointer(h.base)
	}
	lp.lock.Unlock()

	mappedLen := roundUpPage(uintptr(classSize))
	p, err := lp.pageSource.Map(mappedLen)
	if err != nil {
		if lp.errorCallback != nil {
			lp.errorCallback("hoard: out of memory allocating large object: " + err.Error())
		}
		return nil
	}
	h := &largeHeader{
		magic:      magicLarge,
		classIndex: classIndex,
		classSize:  classSize,
		exactSize:  size,
		base:       uintptr(p),
		mappedLen:  mappedLen,
	}
	largeRegistry.Store(h.base, h)

	lp.lock.Lock()
	lp.liveBytes += int64(classSize)
	lp.lock.Unlock()

	addLargeLive(1, int64(classSize))
	return p
}

// free is the large-object half of owner dispatch (TLAB.Deallocate in
// tlab.go calls into here once containingLarge() identifies a large
// header). spec.md §4.6: "kept in per-class free lists, up to a bound
// proportional to the currently-live bytes — when held exceeds (1 + ε') ×
// live, all cached large objects are released."
func (lp *largeObjectPool) free(h *largeHeader) {
	if h.classIndex == uncachedLargeClass {
		largeRegistry.Delete(h.base)
		addLargeLive(-1, -int64(h.classSize))
		_ = lp.pageSource.Release(unsafe.Pointer(h.base), h.mappedLen)
		if lp.sink != nil {
			lp.sink.LargeObjectReleased(int64(h.classSize))
		}
		return
	}

	classSize := h.classSize

	lp.lock.Lock()
	lp.liveBytes -= int64(classSize)
	lp.classes[h.classIndex] = append(lp.classes[h.classIndex], h)
	lp.cachedBytes += int64(classSize)

	var victims []*largeHeader
	live := lp.liveBytes
	if live < 0 {
		live = 0
	}
	if float64(lp.cachedBytes) > (1+largeSlopFraction)*float64(live) {
		for idx, list := range lp.classes {
			victims = append(victims, list...)
			delete(lp.classes, idx)
		}
		lp.cachedBytes = 0
	}
	lp.lock.Unlock()

	addLargeLive(-1, -int64(classSize))

	for _, victim := range victims {
		largeRegistry.Delete(victim.base)
		_ = lp.pageSource.Release(unsafe.Pointer(victim.base), victim.mappedLen)
		if lp.sink != nil {
			lp.sink.LargeObjectReleased(int64(victim.classSize))
		}
	}
}

// containingLarge looks p up by exact address; large objects are not
// SuperblockSize-aligned so there is nothing to mask.
func containingLarge(p unsafe.Pointer) *largeHeader {
	if p == nil {
		return nil
	}
	h, ok := largeRegistry.Load(uintptr(p))
	if !ok || h.magic != magicLarge {
		return nil
	}
	return h
}
