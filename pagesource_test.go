package hoard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOSPageSourceMapRoundsUpToPageSize(t *testing.T) {
	ps := newOSPageSource()
	p, err := ps.Map(1)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.EqualValues(t, pageSize, ps.BytesMapped())

	require.NoError(t, ps.Release(p, pageSize))
	require.EqualValues(t, 0, ps.BytesMapped())
}

func TestOSPageSourceMapAlignedIsAligned(t *testing.T) {
	ps := newOSPageSource()
	p, err := ps.MapAligned(SuperblockSize, SuperblockSize)
	require.NoError(t, err)
	require.Zero(t, uintptr(p)%SuperblockSize)

	require.NoError(t, ps.Release(p, SuperblockSize))
}

func TestOSPageSourceReleaseRejectsUntrackedRegion(t *testing.T) {
	ps := newOSPageSource()
	err := ps.Release(nil, pageSize)
	require.Error(t, err)
}
