package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	// Mutating the returned slice must not leak into the cache.
	got[0] = 'x'
	again, _ := c.Get(ctx, "k")
	if string(again) != "v" {
		t.Errorf("cached value mutated to %q", again)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("1"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(2 * time.Second)

	if _, err := c.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() of expired entry error = %v, want ErrCacheMiss", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired read", c.Len())
	}
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	c := NewMemoryCache(0, 2)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, err := c.Get(ctx, "c"); err != nil {
		t.Errorf("most recent entry missing: %v", err)
	}
}

func TestMemoryCache_Closed(t *testing.T) {
	c := NewMemoryCache(0, 0)
	_ = c.Close()

	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("Get() on closed cache error = %v, want ErrCacheClosed", err)
	}
}

type testKey string

func (k testKey) CacheKey() string { return "test:" + string(k) }

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTyped_RoundTrip(t *testing.T) {
	mem := NewMemoryCache(0, 0)
	c := NewTyped[record](mem, 0)
	ctx := context.Background()

	if _, ok := c.Get(ctx, testKey("r")); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}
	if err := c.Set(ctx, testKey("r"), &record{Name: "n", Count: 3}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok := c.Get(ctx, testKey("r"))
	if !ok {
		t.Fatal("Get() reported a miss after Set")
	}
	if got.Name != "n" || got.Count != 3 {
		t.Errorf("Get() = %+v", got)
	}
	if _, err := mem.Get(ctx, "test:r"); err != nil {
		t.Errorf("typed key not used as raw key: %v", err)
	}

	if err := c.Delete(ctx, testKey("r")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, testKey("r")); ok {
		t.Error("Get() after Delete reported a hit")
	}
}

func TestTyped_Nop(t *testing.T) {
	c := NewTyped[record](Nop{}, 0)
	ctx := context.Background()
	_ = c.Set(ctx, testKey("r"), &record{Name: "n"})
	if _, ok := c.Get(ctx, testKey("r")); ok {
		t.Error("Nop cache reported a hit")
	}
}
