package hoard

import "github.com/pkg/errors"

// ErrorCallback matches spec.md §6's config.error_callback: invoked for
// leaks, invalid-free diagnostics (reported on every invalid free; there is
// no separate debug mode), out-of-memory failures, or an owner-dispatch retry
// bound exceeded (spec.md §9's "report deadlock-like conditions").
type ErrorCallback func(message string)

// Sentinel errors for the internal plumbing described in SPEC_FULL.md's
// "Error handling" section. None of these ever cross the public
// Allocate/Deallocate/UsableSize boundary — spec.md §7 is explicit that all
// internal errors collapse to nil or a silent drop there.
var (
	errNotInitialized   = errors.New("hoard: allocator not initialized")
	errAlreadyInit      = errors.New("hoard: allocator already initialized")
	errInvalidConfig    = errors.New("hoard: invalid configuration")
	errFinalizeWithLive = errors.New("hoard: finalize called with live allocations outstanding")
)
