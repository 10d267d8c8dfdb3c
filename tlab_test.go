package hoard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLABCachesFreedObjectLocally(t *testing.T) {
	pph := newPerProcessHeap(10)
	tl := newTLAB(pph, defaultTLABThreshold)
	t.Cleanup(pph.drainToGlobal)

	p := tl.Allocate(64)
	require.NotNil(t, p)

	tl.Deallocate(p)
	require.Greater(t, tl.localHeld, int64(0))

	q := tl.Allocate(64)
	require.Equal(t, p, q, "a local cache hit should hand back the same slot without touching the PPH")
}

func TestTLABDrainsAtThreshold(t *testing.T) {
	pph := newPerProcessHeap(11)
	tl := newTLAB(pph, 256) // tiny threshold forces a drain quickly
	t.Cleanup(pph.drainToGlobal)

	class := sizeToClass(128)
	slotSize := int64(classToSizeOf(class))

	for i := 0; i < 16; i++ {
		p := pph.allocate(class)
		require.NotNil(t, p)
		tl.Deallocate(p)
	}

	require.LessOrEqual(t, tl.localHeld, int64(256)/2+slotSize, "drain should bring localHeld back toward threshold/2")
}

func TestTLABLargeObjectBypassesLocalCache(t *testing.T) {
	pph := newPerProcessHeap(12)
	tl := newTLAB(pph, defaultTLABThreshold)
	t.Cleanup(pph.drainToGlobal)

	p := tl.Allocate(LargestSmall() + 1)
	require.NotNil(t, p)
	require.Equal(t, int64(0), tl.localHeld)

	tl.Deallocate(p)
	require.Equal(t, int64(0), tl.localHeld)
}

func TestTLABRoutesCrossPPHFreeToOwnerInstead(t *testing.T) {
	origin := newPerProcessHeap(14)
	other := newPerProcessHeap(15)
	producer := newTLAB(origin, defaultTLABThreshold)
	consumer := newTLAB(other, defaultTLABThreshold)
	t.Cleanup(origin.drainToGlobal)
	t.Cleanup(other.drainToGlobal)

	p := producer.Allocate(64)
	require.NotNil(t, p)
	require.Greater(t, origin.bytesInUse, int64(0))

	consumer.Deallocate(p)

	require.Equal(t, int64(0), consumer.localHeld, "a cross-PPH free must not sit in the freeing thread's local cache")
	require.Equal(t, int64(0), origin.bytesInUse, "owner dispatch must relieve the origin PPH's bytesInUse immediately")
}

func TestTLABAllocateAlignedRespectsAlignment(t *testing.T) {
	pph := newPerProcessHeap(13)
	tl := newTLAB(pph, defaultTLABThreshold)
	t.Cleanup(pph.drainToGlobal)

	p := tl.AllocateAligned(4096, 100)
	require.NotNil(t, p)
	require.Zero(t, uintptr(p)%4096)
	require.GreaterOrEqual(t, tl.UsableSize(p), int32(100))

	tl.Deallocate(p)
}
