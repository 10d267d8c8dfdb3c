package hoard

import (
	"runtime"
	"sync/atomic"
)

// spinlock is the "mutual exclusion with a short fast path and OS-yield
// fallback" contract spec.md §9 asks for in place of the teacher's
// platform-specific futex/semaphore locks (_examples/wenfang-golang1.6-src/src/runtime/
// lock_futex.go). Thread identity, atomic CAS, and OS-level yielding are
// exactly the "threading primitives" spec.md §1 carves out as an external
// collaborator, so hoard only needs one concrete, portable choice: a short
// CAS spin (mirroring lock_futex.go's active_spin/active_spin_cnt) before
// falling back to runtime.Gosched, which is the Go-idiomatic stand-in for
// the teacher's OS-level futex sleep.
type spinlock struct {
	state int32
}

const (
	spinUnlocked = 0
	spinLocked   = 1

	activeSpinCount = 30
)

func (l *spinlock) Lock() {
	for i := 0; i < activeSpinCount; i++ {
		if atomic.CompareAndSwapInt32(&l.state, spinUnlocked, spinLocked) {
			return
		}
	}
	for !atomic.CompareAndSwapInt32(&l.state, spinUnlocked, spinLocked) {
		runtime.Gosched()
	}
}

func (l *spinlock) TryLock() bool {
	return atomic.CompareAndSwapInt32(&l.state, spinUnlocked, spinLocked)
}

func (l *spinlock) Unlock() {
	if !atomic.CompareAndSwapInt32(&l.state, spinLocked, spinUnlocked) {
		panic("hoard: unlock of unlocked spinlock")
	}
}
