package hoard

import "sync/atomic"

// StatsSink is spec.md §1's "statistics/tracing wrappers" external
// collaborator, described only by the interface the core uses (the core
// itself never formats or exports a metric). metrics/ ships one concrete,
// optional implementation backed by github.com/prometheus/client_golang;
// the zero value of Config uses noopSink instead.
type StatsSink interface {
	SuperblockMinted()
	SuperblockReleased()
	TLABDrain(bytes int64)
	LargeObjectReleased(bytes int64)
}

type noopSink struct{}

func (noopSink) SuperblockMinted()         {}
func (noopSink) SuperblockReleased()       {}
func (noopSink) TLABDrain(bytes int64)     {}
func (noopSink) LargeObjectReleased(int64) {}

// Stats is a point-in-time snapshot, supplementing spec.md §6's silence on
// introspection (SPEC_FULL.md "Statistics surface"). Field names are kept
// in the present tense rather than mirroring the teacher's mstats verbatim
// (local_nlargefree, heap_live, ...).
type Stats struct {
	BytesInUse        int64
	BytesHeld         uintptr
	SuperblocksMinted int32
	SuperblocksFreed  int32
	LargeObjectsLive  int64
	LargeBytesHeld    int64
}

var (
	largeObjectsLive int64
	largeBytesHeld   int64
)

func addLargeLive(n, bytes int64) {
	atomic.AddInt64(&largeObjectsLive, n)
	atomic.AddInt64(&largeBytesHeld, bytes)
}
