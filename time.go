package hoard

import "time"

// monotonicNow is used for the unusedSince bookkeeping the Global Heap's
// scavenger (globalheap.go) compares against its trim window.
func monotonicNow() int64 { return time.Now().UnixNano() }
