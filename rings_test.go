package hoard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSuperblock(class, used, total int32) *superblock {
	s := &superblock{
		magic:     magicSuperblock,
		sizeClass: class,
		slotSize:  classToSizeOf(class),
		total:     total,
		used:      used,
	}
	s.ownerVal.Store(ownerRef{kind: ownerNone})
	s.recomputeEmptiness()
	return s
}

func TestSuperblockRingOrdering(t *testing.T) {
	var ring superblockRing
	a := fakeSuperblock(1, 0, 10)
	b := fakeSuperblock(1, 0, 10)
	c := fakeSuperblock(1, 0, 10)

	ring.insertBack(a)
	ring.insertBack(b)
	ring.insertFront(c)

	require.Equal(t, c, ring.first)
	require.Equal(t, b, ring.last)

	ring.remove(b)
	assert.Equal(t, a, ring.last)
	assert.Nil(t, a.next)

	ring.remove(c)
	ring.remove(a)
	assert.True(t, ring.empty())
}

func TestRingBinPicksFullestNonFull(t *testing.T) {
	var bin ringBin
	almostFull := fakeSuperblock(1, 9, 10)  // emptinessClass near K-1
	full := fakeSuperblock(1, 10, 10)       // completely full, must be skipped
	almostEmpty := fakeSuperblock(1, 1, 10) // low emptiness class

	bin.rings[full.emptinessClass].insertBack(full)
	bin.rings[almostFull.emptinessClass].insertBack(almostFull)
	bin.rings[almostEmpty.emptinessClass].insertBack(almostEmpty)

	picked := bin.pickForAllocation()
	require.NotNil(t, picked)
	assert.False(t, picked.full())
	assert.GreaterOrEqual(t, picked.emptinessClass, almostEmpty.emptinessClass)
}

func TestRingBinRelocateMovesBetweenRings(t *testing.T) {
	var bin ringBin
	s := fakeSuperblock(1, 0, 10)
	bin.relocate(s, -1)
	oldClass := s.emptinessClass
	require.False(t, bin.rings[oldClass].empty())

	s.used = 5
	s.recomputeEmptiness()
	bin.relocate(s, oldClass)

	assert.True(t, bin.rings[oldClass].empty())
	assert.False(t, bin.rings[s.emptinessClass].empty())
}
