package httpcache

import "context"

// Store extends Cache with an atomic read-modify-write operation. Backends
// that can offer compare-and-swap or per-key locking should implement it
// directly; MemoryCache is the bounded, most-recently-used reference
// implementation.
type Store interface {
	Cache

	// Update atomically reads the current value for key (ok is false if no
	// entry exists), computes the next value via fn, and stores it. Callers
	// that race to Update the same key are coalesced so fn observes a
	// consistent view rather than racing on a read-then-write.
	//
	// If fn returns an error, the store is left unchanged and Update returns
	// that error.
	Update(ctx context.Context, key string, fn func(current []byte, ok bool) ([]byte, error)) error
}
