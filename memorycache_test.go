package httpcache

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryCacheZeroCapacityStoresNothing(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)

	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get() = ok=%v err=%v, want ok=false", ok, err)
	}

	if err := c.Update(ctx, "k", func(current []byte, ok bool) ([]byte, error) {
		if ok {
			t.Fatal("Update saw a value in a zero-capacity store")
		}
		return []byte("v"), nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("zero-capacity store retained a value after Update")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))

	// Touch "a" so "b" becomes the least recently used entry.
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected a to be present")
	}

	c.Set(ctx, "c", []byte("3"))

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("expected b to have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected a to still be present")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Fatal("expected c to be present")
	}
}

func TestMemoryCacheUpdateAtomicReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	err := c.Update(ctx, "counter", func(current []byte, ok bool) ([]byte, error) {
		if ok {
			t.Fatal("expected no prior value")
		}
		return []byte{1}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = c.Update(ctx, "counter", func(current []byte, ok bool) ([]byte, error) {
		if !ok || len(current) != 1 {
			t.Fatalf("unexpected current value: %v ok=%v", current, ok)
		}
		return []byte{current[0] + 1}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	val, ok, _ := c.Get(ctx, "counter")
	if !ok || len(val) != 1 || val[0] != 2 {
		t.Fatalf("got %v, want [2]", val)
	}
}

func TestMemoryCacheUpdateErrorLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)
	c.Set(ctx, "k", []byte("original"))

	sentinel := errors.New("boom")
	err := c.Update(ctx, "k", func(current []byte, ok bool) ([]byte, error) {
		return []byte("mutated"), sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Update() error = %v, want %v", err, sentinel)
	}

	val, ok, _ := c.Get(ctx, "k")
	if !ok || string(val) != "original" {
		t.Fatalf("store was mutated despite fn error: %q", val)
	}
}

func TestMemoryCacheUpdateCoalescesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.Update(ctx, "shared", func(current []byte, ok bool) ([]byte, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				return []byte("v"), nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if calls == 0 {
		t.Fatal("fn was never invoked")
	}
	val, ok, _ := c.Get(ctx, "shared")
	if !ok || string(val) != "v" {
		t.Fatalf("unexpected final value %q", val)
	}
}
