//go:build !(linux || darwin || freebsd)

package hoard

import "errors"

// Non-unix targets have no mmap-shaped raw page source wired in this repo;
// spec.md §1 treats the page-level memory source as an external
// collaborator, and the retrieval pack's low-level memory examples
// (biscuit, gvisor) are unix-only too. A faithful Windows backend (VirtualAlloc
// via golang.org/x/sys/windows) would live in a sibling mmap_windows.go file
// following this same contract; it is left unimplemented here for scope.
func rawMmap(n uintptr) (uintptr, error) {
	return 0, errors.New("hoard: no raw page source wired for this GOOS")
}

func rawMunmap(addr, n uintptr) error {
	return errors.New("hoard: no raw page source wired for this GOOS")
}

func rawMadviseFree(addr, n uintptr) error {
	return nil
}
