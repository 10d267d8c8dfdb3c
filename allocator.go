package hoard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

// Config is spec.md §6's config object, expanded per SPEC_FULL.md's
// "Configuration" section to name concrete defaults instead of leaving them
// implementation-defined.
type Config struct {
	// ErrorCallback receives leak/invalid-free/owner-dispatch diagnostics.
	// Defaults to a no-op.
	ErrorCallback ErrorCallback

	// StatsSink receives Superblock/TLAB/large-object events as they happen.
	// Defaults to noopSink{}; metrics.NewPrometheusSink wires a concrete one.
	StatsSink StatsSink

	// NumHeaps is the number of PerProcessHeaps, spec.md §4.3's "small,
	// fixed multiple of the hardware concurrency, not one-per-thread".
	// A value that is not a power of two is rounded up to the next one;
	// defaults to the next power of two at or above runtime.GOMAXPROCS(0).
	NumHeaps int32

	// AnonymousTLABs sizes the round-robin pool backing the package-level
	// Allocate/Deallocate convenience functions (SPEC_FULL.md's thread
	// identity supplement). Defaults to NumHeaps.
	AnonymousTLABs int32

	// TLABThreshold is L from spec.md §4.4. Defaults to defaultTLABThreshold.
	TLABThreshold int64

	// MinSlopSuperblocks and SlopFraction bound the Global Heap's empty pool
	// (spec.md §4.5, SPEC_FULL.md's Global Heap supplement).
	MinSlopSuperblocks int32
	SlopFraction       float64

	// ScavengeIdle is how long an empty Superblock sits before the
	// background scavenger releases it regardless of the slop bound.
	ScavengeIdle time.Duration
}

func (c Config) errorCallbackOrDefault() ErrorCallback {
	if c.ErrorCallback != nil {
		return c.ErrorCallback
	}
	return func(string) {}
}

func (c Config) statsSinkOrDefault() StatsSink {
	if c.StatsSink != nil {
		return c.StatsSink
	}
	return noopSink{}
}

func nextPowerOfTwo(n int32) int32 {
	if n <= 1 {
		return 1
	}
	p := int32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (c Config) withDefaults() Config {
	if c.NumHeaps <= 0 {
		c.NumHeaps = nextPowerOfTwo(int32(defaultHeapCount()))
	} else {
		c.NumHeaps = nextPowerOfTwo(c.NumHeaps)
	}
	if c.AnonymousTLABs <= 0 {
		c.AnonymousTLABs = c.NumHeaps
	}
	if c.TLABThreshold <= 0 {
		c.TLABThreshold = defaultTLABThreshold
	}
	if c.MinSlopSuperblocks <= 0 {
		c.MinSlopSuperblocks = 16
	}
	if c.SlopFraction <= 0 {
		c.SlopFraction = 0.25
	}
	if c.ScavengeIdle <= 0 {
		c.ScavengeIdle = 30 * time.Second
	}
	return c
}

var (
	initMu      sync.Mutex
	initialized bool
	activeCfg   Config
	heaps       []*perProcessHeap
	heapCounter uint64
)

// Initialize is spec.md §6's lifecycle entry point: build the PPH pool,
// wire Config into the Global Heap and large-object engine, and start the
// background scavenger. Grounded on _examples/wenfang-golang1.6-src/src/runtime/mheap.go's
// mallocinit, generalised from the teacher's single process-wide heap into
// hoard's fixed pool of PerProcessHeaps.
func Initialize(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return errAlreadyInit
	}

	cfg = cfg.withDefaults()
	activeCfg = cfg

	heaps = make([]*perProcessHeap, cfg.NumHeaps)
	for i := range heaps {
		heaps[i] = newPerProcessHeap(int32(i))
	}

	globalHeapInstance.configure(cfg)
	largeObjectPoolInstance.configure(cfg)
	globalHeapInstance.startScavenger()
	anonymousTLABs.init(int(cfg.AnonymousTLABs), cfg.TLABThreshold)

	initialized = true
	return nil
}

// Finalize is spec.md §6's teardown: drain the anonymous TLAB pool and every
// PPH back to the Global Heap and stop the scavenger. TLABs handed out by
// ThreadInitialize are not tracked and are not drained here. Every
// Superblock a PPH owns is released to the Global Heap, including ones that
// still hold live allocations, and the Global Heap's slop-bound trim
// returns any beyond that bound to the Page Source at once. Per spec.md §7's
// LeakOnFinalize taxonomy, a PPH that still has bytes in use when Finalize
// runs is reported through the configured ErrorCallback (and returned, via
// errFinalizeWithLive, to a caller that checks the error) rather than
// dropped silently; the drain and scavenger shutdown still happen so
// teardown ordering (spec.md §9: TLABs into PPHs, PPHs into the Global
// Heap, then the Global Heap releases to the Page Source) completes either
// way.
func Finalize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized {
		return errNotInitialized
	}

	anonymousTLABs.drainAll()

	var leaked int64
	for _, h := range heaps {
		h.lock.Lock()
		leaked += h.bytesInUse
		h.lock.Unlock()
	}

	for _, h := range heaps {
		h.drainToGlobal()
	}
	globalHeapInstance.stopScavenger()

	initialized = false

	if leaked > 0 {
		msg := fmt.Sprintf("hoard: finalize found %d bytes still in use across live PPHs", leaked)
		activeCfg.errorCallbackOrDefault()(msg)
		return errors.Wrap(errFinalizeWithLive, msg)
	}
	return nil
}

func defaultHeapCount() int32 {
	n := int32(numCPU())
	if n < 1 {
		n = 1
	}
	return n
}

// ThreadInitialize binds a fresh TLAB to one of the fixed PerProcessHeaps,
// chosen round-robin (SPEC_FULL.md's thread-identity supplement to spec.md
// §9's open question: Go has no portable, stable thread handle to hash on,
// so PPH assignment is round-robin over callers of ThreadInitialize rather
// than derived from OS thread identity).
func ThreadInitialize() *TLAB {
	idx := int(atomic.AddUint64(&heapCounter, 1)-1) % len(heaps)
	return newTLAB(heaps[idx], activeCfg.TLABThreshold)
}

// ThreadFinalize drains t's local cache back through owner dispatch. The
// PPH it was bound to keeps serving other TLABs; only t's own cached
// objects are released.
func ThreadFinalize(t *TLAB) {
	t.drainAll()
}

// usableSize is the Containing(p) dispatcher spec.md §4.2 describes,
// generalised to try the large-object registry first (large objects are not
// Superblock-aligned, so a masked lookup would never find them) before
// falling back to containingSuperblock.
func usableSize(p unsafe.Pointer) int32 {
	if h := containingLarge(p); h != nil {
		return h.classSize
	}
	if s := containingSuperblock(p); s != nil {
		return s.usableSize()
	}
	return -1
}

// Allocate, AllocateAligned, Deallocate and UsableSize are the package-level
// convenience surface SPEC_FULL.md adds for callers that never explicitly
// bound a thread with ThreadInitialize: each Allocate, AllocateAligned and
// Deallocate call round-robins over a small fixed pool of TLABs instead
// (identity.go), rather than hashing an
// OS-specific thread identifier hoard has no portable way to obtain.
func Allocate(size int32) unsafe.Pointer {
	s := anonymousTLABs.next()
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.tlab.Allocate(size)
}

func AllocateAligned(alignment, size int32) unsafe.Pointer {
	s := anonymousTLABs.next()
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.tlab.AllocateAligned(alignment, size)
}

func Deallocate(p unsafe.Pointer) {
	s := anonymousTLABs.next()
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tlab.Deallocate(p)
}

func UsableSize(p unsafe.Pointer) int32 {
	return usableSize(p)
}

// CollectStats is spec.md §1's statistics collaborator made concrete
// (SPEC_FULL.md's Statistics surface): a point-in-time snapshot across every
// PPH, the Global Heap and the large-object engine.
func CollectStats() Stats {
	var inUse int64
	for _, h := range heaps {
		h.lock.Lock()
		inUse += h.bytesInUse
		h.lock.Unlock()
	}
	return Stats{
		BytesInUse:        inUse,
		BytesHeld:         globalHeapInstance.bytesHeld(),
		SuperblocksMinted: atomic.LoadInt32(&globalHeapInstance.minted),
		SuperblocksFreed:  atomic.LoadInt32(&globalHeapInstance.released),
		LargeObjectsLive:  atomic.LoadInt64(&largeObjectsLive),
		LargeBytesHeld:    atomic.LoadInt64(&largeBytesHeld),
	}
}
