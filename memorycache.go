package httpcache

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type memoryCacheEntry struct {
	key   string
	value []byte
}

// MemoryCache is a bounded, most-recently-used in-memory Store. A capacity
// of zero stores nothing: every Set and Update is a no-op and every Get
// misses. Concurrent Update calls for the same key are coalesced through a
// singleflight.Group so that a dogpile of simultaneous revalidations for one
// entry performs the merge exactly once.
type MemoryCache struct {
	capacity int

	mu       sync.Mutex
	elements map[string]*list.Element
	order    *list.List // front = most recently used

	group singleflight.Group
}

// NewMemoryCache returns a Store holding at most capacity entries, evicting
// the least recently used entry once that bound is exceeded. capacity <= 0
// yields a store that accepts writes but never retains them.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		elements: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// NewMemoryCacheTransport returns a new Transport backed by a MemoryCache
// holding at most 1000 entries.
func NewMemoryCacheTransport() *Transport {
	return NewTransport(NewMemoryCache(1000))
}

// Get returns the raw bytes stored under key.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	entry := el.Value.(*memoryCacheEntry)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores value under key, evicting the least recently used entry if the
// store is now over capacity.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	if c.capacity <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
	return nil
}

func (c *MemoryCache) setLocked(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)

	if el, ok := c.elements[key]; ok {
		el.Value.(*memoryCacheEntry).value = stored
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&memoryCacheEntry{key: key, value: stored})
	c.elements[key] = el
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.elements, back.Value.(*memoryCacheEntry).key)
	}
}

// Delete removes key from the store.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		c.order.Remove(el)
		delete(c.elements, key)
	}
	return nil
}

// Update loads the current value for key, applies fn, and stores the
// result, all while holding the key's singleflight slot. Update calls for
// the same key that overlap an in-flight one share its execution: their own
// fn is not run and they return the in-flight call's error.
func (c *MemoryCache) Update(ctx context.Context, key string, fn func(current []byte, ok bool) ([]byte, error)) error {
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		current, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		next, err := fn(current, ok)
		if err != nil {
			return nil, err
		}
		if c.capacity <= 0 {
			return nil, nil
		}
		c.mu.Lock()
		c.setLocked(key, next)
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Store = (*MemoryCache)(nil)
)
