package hoard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPerProcessHeapAllocateServesFromMintedSuperblock(t *testing.T) {
	h := newPerProcessHeap(0)
	class := sizeToClass(64)

	p := h.allocate(class)
	require.NotNil(t, p)
	require.Greater(t, h.bytesInUse, int64(0))
	require.Greater(t, h.bytesHeld, int64(0))

	t.Cleanup(h.drainToGlobal)
}

func TestFreeObjectToOwnerUpdatesOwningHeap(t *testing.T) {
	h := newPerProcessHeap(1)
	class := sizeToClass(128)

	p := h.allocate(class)
	require.NotNil(t, p)
	before := h.bytesInUse

	s := containingSuperblock(p)
	require.NotNil(t, s)
	require.Equal(t, ownerPPH, s.owner().kind)

	freeObjectToOwner(s, p)
	require.Less(t, h.bytesInUse, before)

	t.Cleanup(h.drainToGlobal)
}

func TestShouldReclaimRequiresEmptySuperblock(t *testing.T) {
	h := newPerProcessHeap(2)
	class := sizeToClass(64)

	p := h.allocate(class)
	require.NotNil(t, p)
	s := containingSuperblock(p)
	require.NotNil(t, s)

	require.False(t, h.shouldReclaim(s), "a superblock with a live slot must never be reclaimed")

	freeObjectToOwner(s, p)

	t.Cleanup(h.drainToGlobal)
}

func TestDrainToGlobalReleasesEverySuperblock(t *testing.T) {
	h := newPerProcessHeap(3)
	class := sizeToClass(256)

	p1 := h.allocate(class)
	p2 := h.allocate(class)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	h.drainToGlobal()
	require.Equal(t, int64(0), h.bytesInUse)
	require.Equal(t, int64(0), h.bytesHeld)
}
