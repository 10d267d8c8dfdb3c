package hoard

// Size classes.
//
// Grounded on _examples/wenfang-golang1.6-src/src/runtime/msize.go (Go 1.6's
// runtime.InitSizes / SizeToClass). The teacher computes the table at
// program init by walking candidate sizes and bumping the alignment
// periodically so that rounding up to the next class wastes at most
// MaxWastePercent of the requested size. hoard keeps that rounding bound
// (computeSizeClasses) instead of a single hand-copied table so the schedule
// tracks SuperblockSize and MaxWastePercent if either is tuned; the payload
// left over after carving a Superblock into whole objects of a class is not
// bounded.
//
// The lookup itself is split the same way the teacher splits it: a small
// table indexed by (size+7)/8 for sizes up to smallLookupMax, and a coarser
// table in 128-byte steps covering the rest of the small range.

const (
	// SuperblockSize is S from spec.md §3: the fixed, address-aligned
	// Superblock size. All Superblocks are aligned to this boundary so
	// Containing(p) can recover one by masking.
	SuperblockSize = 64 * 1024

	// MaxWastePercent bounds internal fragmentation from size-class
	// rounding, matching the teacher's "wastes at most 12.5%" comment in
	// msize.go scaled up slightly to keep the class count near spec.md's
	// "~30 classes for a 64-KiB superblock" target.
	MaxWastePercent = 20

	// minObjectSize is the smallest size class. Every size class must be at
	// least pointer-sized because the free-list next pointer is stored in
	// the first word of a free slot (spec.md §9, "stored next-pointer
	// inside the free slot").
	minObjectSize = 16

	smallLookupMax = 1024
)

// class 0 is reserved ("not small") exactly as in the teacher's msize.go.
var (
	classToSize     []int32
	classToObjects  []int32 // objects per Superblock for this class
	sizeToClassLow  []int8  // index: (size+7)/8 for size <= smallLookupMax
	sizeToClassHigh []int8  // index: (size-smallLookupMax+127)/128 for size > smallLookupMax
	numSizeClasses  int32
	largestSmall    int32
)

func init() {
	computeSizeClasses()
}

// computeSizeClasses mirrors initSizes in msize.go: walk candidate sizes in
// increasing alignment steps, emit a new class whenever the previous class
// would waste more than MaxWastePercent, and slot the usable payload into
// whole objects. The top class is forced to the full payload (see below)
// rather than left wherever the alignment stepping happens to land, per
// spec.md §6's bit-exact small-object maximum.
func computeSizeClasses() {
	payload := SuperblockSize - headerReserve

	classToSize = []int32{0} // class 0: "not small"
	classToObjects = []int32{0}

	align := 16
	prevSize := int32(0)
	for size := minObjectSize; size < payload; size += align {
		if size&(size-1) == 0 {
			switch {
			case size >= 2048:
				align = 256
			case size >= 512:
				align = size / 8
			case size >= 128:
				align = 32
			}
		}
		waste := (int64(size) - int64(prevSize)) * 100
		if prevSize != 0 && waste < int64(prevSize)*int64(MaxWastePercent) {
			continue
		}
		classToSize = append(classToSize, int32(size))
		classToObjects = append(classToObjects, int32(payload)/int32(size))
		prevSize = int32(size)
	}

	// spec.md §6: "Small-object maximum: S − sizeof(header)" (repeated in
	// §4.6 as LARGEST_SMALL), named among the constants required to be
	// bit-exact. Force a final class at the Superblock's entire usable
	// payload, even though that leaves room for only one object per
	// Superblock: the "manage-one" cached-current-superblock optimisation
	// (pph.go) already tolerates a transiently-empty single-object
	// Superblock, so there is no reason to stop short of the spec-mandated
	// boundary the way a fixed "leave room for two objects" cap would.
	if prevSize != int32(payload) {
		classToSize = append(classToSize, int32(payload))
		classToObjects = append(classToObjects, 1)
	}

	numSizeClasses = int32(len(classToSize))
	largestSmall = classToSize[len(classToSize)-1]

	sizeToClassLow = make([]int8, smallLookupMax/8+1)
	maxHigh := (int(largestSmall) - smallLookupMax + 127) / 128
	if maxHigh < 0 {
		maxHigh = 0
	}
	sizeToClassHigh = make([]int8, maxHigh+1)

	class := int8(1)
	for size := 0; size <= smallLookupMax; size += 8 {
		for int(classToSize[class]) < size {
			class++
		}
		sizeToClassLow[size/8] = class
	}
	for i := range sizeToClassHigh {
		size := smallLookupMax + i*128
		if size > int(largestSmall) {
			size = int(largestSmall)
		}
		for int(classToSize[class]) < size {
			class++
		}
		sizeToClassHigh[i] = class
	}
}

// LargestSmall returns the largest request size served by the small-object
// path. Requests above this go to the large-object engine (spec.md §4.6).
func LargestSmall() int32 { return largestSmall }

// NumSizeClasses returns the number of small-object size classes, class 0
// ("not small") included.
func NumSizeClasses() int32 { return numSizeClasses }

// sizeToClass rounds a small-object request up to its size class. Callers
// must ensure size <= LargestSmall(); use classify(size) instead to also
// route oversize requests.
func sizeToClass(size int32) int32 {
	if size <= smallLookupMax {
		return int32(sizeToClassLow[(size+7)/8])
	}
	return int32(sizeToClassHigh[(size-smallLookupMax+127)/128])
}

// classToSizeOf returns the slot size for a size class.
func classToSizeOf(class int32) int32 { return classToSize[class] }

// classToObjectsOf returns how many slots a Superblock of this size class
// carries.
func classToObjectsOf(class int32) int32 { return classToObjects[class] }

// classify routes a request to a small-object class, or 0 if the request
// must go to the large-object engine.
func classify(size int32) int32 {
	if size <= 0 {
		size = 1
	}
	if size > largestSmall {
		return 0
	}
	return sizeToClass(size)
}
