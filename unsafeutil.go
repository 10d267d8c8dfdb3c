package hoard

import "unsafe"

// unsafePointerOf and bytesAt are the two conversions the raw mmap backends
// need between Go's []byte view of mapped memory and the uintptr addresses
// hoard's metadata tracks everywhere else (matching the teacher's own
// uintptr-typed pageID/base fields in mheap.go, chosen so arithmetic on
// addresses doesn't trip the write-barrier/GC-pointer rules that apply to
// unsafe.Pointer).
func unsafePointerOf(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func bytesAt(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}
