package hoard

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func withAllocator(t *testing.T, cfg Config) {
	t.Helper()
	require.NoError(t, Initialize(cfg))
	t.Cleanup(func() {
		require.NoError(t, Finalize())
	})
}

func TestInitializeTwiceFails(t *testing.T) {
	withAllocator(t, Config{NumHeaps: 2})
	require.ErrorIs(t, Initialize(Config{}), errAlreadyInit)
}

func TestFinalizeWithoutInitializeFails(t *testing.T) {
	require.ErrorIs(t, Finalize(), errNotInitialized)
}

func TestAllocateDeallocateSmallObject(t *testing.T) {
	withAllocator(t, Config{NumHeaps: 4})

	tl := ThreadInitialize()
	defer ThreadFinalize(tl)

	p := tl.Allocate(64)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, tl.UsableSize(p), int32(64))

	tl.Deallocate(p)
}

func TestAllocateOversizeRoutesToLargeEngine(t *testing.T) {
	withAllocator(t, Config{NumHeaps: 2})

	tl := ThreadInitialize()
	defer ThreadFinalize(tl)

	p := tl.Allocate(1_000_000)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, UsableSize(p), int32(1_000_000))
	tl.Deallocate(p)
}

func TestDeallocateInvalidPointerIsSilentlyDropped(t *testing.T) {
	var called bool
	withAllocator(t, Config{
		NumHeaps:      2,
		ErrorCallback: func(string) { called = true },
	})

	tl := ThreadInitialize()
	defer ThreadFinalize(tl)

	var x int
	tl.Deallocate(unsafe.Pointer(&x))
	require.True(t, called, "an invalid free should still reach the error callback")
}

func TestPackageLevelConvenienceFunctionsRoundTrip(t *testing.T) {
	withAllocator(t, Config{NumHeaps: 2, AnonymousTLABs: 3})

	p := Allocate(128)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, UsableSize(p), int32(128))
	Deallocate(p)

	aligned := AllocateAligned(4096, 50)
	require.NotNil(t, aligned)
	require.Zero(t, uintptr(aligned)%4096)
	Deallocate(aligned)
}

func TestFinalizeReportsLeakOnLiveAllocations(t *testing.T) {
	var callbackMsg string
	require.NoError(t, Initialize(Config{
		NumHeaps:      2,
		ErrorCallback: func(msg string) { callbackMsg = msg },
	}))

	tl := ThreadInitialize()
	p := tl.Allocate(64)
	require.NotNil(t, p)
	// Deliberately skip tl.Deallocate(p): the object is still live when
	// Finalize runs below.

	err := Finalize()
	require.ErrorIs(t, err, errFinalizeWithLive)
	require.NotEmpty(t, callbackMsg, "LeakOnFinalize must also reach the error callback")
}

func TestCollectStatsReflectsLiveAllocations(t *testing.T) {
	withAllocator(t, Config{NumHeaps: 2})

	tl := ThreadInitialize()
	defer ThreadFinalize(tl)

	before := CollectStats()
	p := tl.Allocate(1_000_000)
	require.NotNil(t, p)

	after := CollectStats()
	require.Greater(t, after.LargeObjectsLive, before.LargeObjectsLive)

	tl.Deallocate(p)
}
