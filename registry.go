package hoard

import "sync"

// registry is the address -> metadata lookup table that stands in for the
// teacher's h_spans array (_examples/wenfang-golang1.6-src/src/runtime/mheap.go,
// spanOf/spanOfUnchecked/inheap). The teacher can embed *mspan pointers
// directly in mapped arena pages because the whole program is the runtime;
// hoard cannot safely store live Go pointers (mutexes, atomic.Value,
// interface values) inside memory obtained from mmap, since that memory is
// deliberately kept outside the garbage collector's view (matching the
// teacher's own "mcaches are allocated from non-GC'd memory" rule in
// mcache.go). Metadata therefore stays an ordinary, GC-visible Go struct,
// and Containing(p) recovers it by the address key instead of by reading a
// header byte-for-byte out of the mapped region. spec.md §4.2's "masking
// the pointer to the superblock alignment boundary, then validating magic"
// is preserved exactly as the *key derivation and validation* step; only
// the storage location of what gets validated moves off the mapped page.
const registryShards = 64

type registry[T any] struct {
	shards [registryShards]registryShard[T]
}

type registryShard[T any] struct {
	mu sync.RWMutex
	m  map[uintptr]T
}

func newRegistry[T any]() *registry[T] {
	r := &registry[T]{}
	for i := range r.shards {
		r.shards[i].m = make(map[uintptr]T)
	}
	return r
}

func (r *registry[T]) shardFor(key uintptr) *registryShard[T] {
	// Superblock-aligned keys have their low bits masked to zero, so shard
	// on bits just above the alignment instead of the low bits directly.
	idx := (key >> 16) % registryShards
	return &r.shards[idx]
}

func (r *registry[T]) Store(key uintptr, v T) {
	s := r.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

func (r *registry[T]) Delete(key uintptr) {
	s := r.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func (r *registry[T]) Load(key uintptr) (T, bool) {
	s := r.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}
