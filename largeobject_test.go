package hoard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLargeObjectPool() *largeObjectPool {
	return &largeObjectPool{
		pageSource: defaultPageSource,
		classes:    make(map[int32][]*largeHeader),
	}
}

func TestClassifyLargeIsMonotonic(t *testing.T) {
	prevSize := int32(0)
	prevClass := int32(-1)
	for _, size := range []int32{largestSmall + 1, 8192, 100_000, 1_000_000, 10_000_000} {
		class, classSize := classifyLarge(size)
		require.GreaterOrEqual(t, classSize, size)
		require.GreaterOrEqual(t, class, prevClass)
		if class == prevClass {
			require.Equal(t, prevSize, classSize)
		}
		prevSize, prevClass = classSize, class
	}
}

func TestLargeObjectPoolAllocateFreeRoundTrip(t *testing.T) {
	lp := newTestLargeObjectPool()

	p := lp.allocate(1_000_000)
	require.NotNil(t, p)
	require.Equal(t, int64(0), lp.cachedBytes)
	require.Greater(t, lp.liveBytes, int64(0))

	h := containingLarge(p)
	require.NotNil(t, h)

	lp.free(h)
	require.Equal(t, int64(0), lp.liveBytes)
}

func TestLargeObjectPoolReusesCachedHeaderOfSameClass(t *testing.T) {
	lp := newTestLargeObjectPool()

	// A second live object of the same class keeps liveBytes positive, so
	// freeing p1 stays under the (1+ε')×live bound and p1 is cached rather
	// than released.
	keeper := lp.allocate(500_000)
	require.NotNil(t, keeper)

	p1 := lp.allocate(500_000)
	require.NotNil(t, p1)
	h1 := containingLarge(p1)
	require.NotNil(t, h1)
	lp.free(h1)

	p2 := lp.allocate(500_000)
	require.Equal(t, p1, p2, "a same-class request should reuse the cached header")

	h2 := containingLarge(p2)
	require.NotNil(t, h2)
	lp.free(h2)

	hk := containingLarge(keeper)
	require.NotNil(t, hk)
	lp.free(hk)
}

func TestLargeObjectPoolEvictsWhenCacheExceedsSlopBound(t *testing.T) {
	lp := newTestLargeObjectPool()

	headers := make([]*largeHeader, 0, 4)
	for i := 0; i < 4; i++ {
		p := lp.allocate(int32(200_000 + i*50_000))
		require.NotNil(t, p)
		h := containingLarge(p)
		require.NotNil(t, h)
		headers = append(headers, h)
	}
	for _, h := range headers {
		lp.free(h)
	}

	// liveBytes is zero once everything is freed, so cachedBytes (strictly
	// positive after at least one free) must exceed (1+ε')×0 and trigger a
	// full eviction of every class's free list.
	require.Equal(t, int64(0), lp.cachedBytes)
	for _, list := range lp.classes {
		require.Empty(t, list)
	}
}

func TestUncachedLargeHeaderReleasesWithoutCaching(t *testing.T) {
	lp := newTestLargeObjectPool()
	p, err := defaultPageSource.MapAligned(8192, 8192)
	require.NoError(t, err)

	h := &largeHeader{
		magic:      magicLarge,
		classIndex: uncachedLargeClass,
		classSize:  8192,
		exactSize:  100,
		base:       uintptr(p),
		mappedLen:  8192,
	}
	largeRegistry.Store(h.base, h)

	lp.free(h)
	_, ok := largeRegistry.Load(h.base)
	require.False(t, ok)
}
