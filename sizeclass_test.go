package hoard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClassScheduleMonotonic(t *testing.T) {
	require.Greater(t, numSizeClasses, int32(1))
	require.Greater(t, largestSmall, int32(0))

	var prev int32
	for class := int32(1); class < numSizeClasses; class++ {
		size := classToSizeOf(class)
		assert.Greater(t, size, prev, "class %d size must exceed the previous class", class)
		assert.GreaterOrEqual(t, size, int32(minObjectSize))
		assert.Greater(t, classToObjectsOf(class), int32(0))
		prev = size
	}
}

func TestSizeToClassRoundTrip(t *testing.T) {
	for _, size := range []int32{1, 7, 8, 16, 17, 100, 512, 1000, 1024, 1025, largestSmall} {
		class := sizeToClass(size)
		require.Greater(t, class, int32(0))
		slot := classToSizeOf(class)
		assert.GreaterOrEqual(t, slot, size, "slot for size %d must be at least as large", size)
	}
}

func TestClassifyRoutesOversizeToZero(t *testing.T) {
	assert.Equal(t, int32(0), classify(largestSmall+1))
	assert.Equal(t, int32(0), classify(1<<20))
	assert.NotEqual(t, int32(0), classify(16))
}

func TestLargestSmallMatchesSpecBitExactMaximum(t *testing.T) {
	payload := int32(SuperblockSize - headerReserve)
	assert.Equal(t, payload, largestSmall, "spec.md §6: small-object maximum must be exactly S - sizeof(header)")
	assert.Equal(t, int32(1), classToObjectsOf(numSizeClasses-1), "the top class holds exactly one object per Superblock")
}
