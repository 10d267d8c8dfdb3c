//go:build linux || darwin || freebsd

package hoard

import (
	"golang.org/x/sys/unix"
)

// rawMmap / rawMunmap are the only two functions in hoard that talk to the
// kernel directly. Grounded on spec.md §4.1's Page Source contract; the
// choice of golang.org/x/sys/unix over the stdlib syscall package follows
// the rest of the retrieval pack's low-level memory code (biscuit's
// vm/as.go, gvisor) rather than hand-rolling raw syscall numbers.
func rawMmap(n uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafePointerOf(b)), nil
}

func rawMunmap(addr, n uintptr) error {
	return unix.Munmap(bytesAt(addr, n))
}

func rawMadviseFree(addr, n uintptr) error {
	return unix.Madvise(bytesAt(addr, n), unix.MADV_DONTNEED)
}
