package hoard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGlobalHeap() *globalHeap {
	return &globalHeap{
		pageSource:   defaultPageSource,
		minSlop:      2,
		slopFraction: 0.25,
	}
}

func TestGlobalHeapMintAndRelease(t *testing.T) {
	g := newTestGlobalHeap()
	caller := newPerProcessHeap(20)

	s := g.acquire(sizeToClass(64), caller)
	require.NotNil(t, s)
	require.Equal(t, ownerPPH, s.owner().kind)

	g.release(s)
	require.Equal(t, ownerGlobalHeap, s.owner().kind)
	require.Equal(t, int32(1), g.emptyCount)
}

func TestGlobalHeapReusesReleasedSuperblockForSameClass(t *testing.T) {
	g := newTestGlobalHeap()
	caller := newPerProcessHeap(21)
	class := sizeToClass(64)

	s1 := g.acquire(class, caller)
	require.NotNil(t, s1)
	g.release(s1)

	s2 := g.acquire(class, caller)
	require.NotNil(t, s2)
	require.Equal(t, s1, s2, "acquiring the same class again should reuse the just-released superblock")
}

func TestGlobalHeapReinitialisesSuperblockOnClassChange(t *testing.T) {
	g := newTestGlobalHeap()
	caller := newPerProcessHeap(22)

	small := sizeToClass(64)
	large := sizeToClass(2048)

	s1 := g.acquire(small, caller)
	require.NotNil(t, s1)
	g.release(s1)

	s2 := g.acquire(large, caller)
	require.NotNil(t, s2)
	require.Equal(t, s1, s2)
	require.Equal(t, large, s2.sizeClass)
	require.Equal(t, classToSizeOf(large), s2.slotSize)
}

func TestGlobalHeapTrimsSurplusBeyondSlopBound(t *testing.T) {
	g := newTestGlobalHeap()
	g.minSlop = 1
	caller := newPerProcessHeap(23)
	class := sizeToClass(64)

	var blocks []*superblock
	for i := 0; i < 4; i++ {
		s := g.acquire(class, caller)
		require.NotNil(t, s)
		blocks = append(blocks, s)
	}
	for _, s := range blocks {
		g.release(s)
	}

	require.LessOrEqual(t, g.emptyCount, g.slopBound())
}
