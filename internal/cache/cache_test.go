package cache

import (
	"testing"
	"time"
)

func TestCache_HitReturnsCopy(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("q", []float32{1, 2, 3})

	got, ok := c.Get("q")
	if !ok {
		t.Fatal("expected hit")
	}
	got[0] = 99
	again, _ := c.Get("q")
	if again[0] != 1 {
		t.Error("Get must return a copy, cached vector was mutated")
	}
}

func TestCache_Miss(t *testing.T) {
	c := New(4, time.Minute)
	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss")
	}
	hits, misses := c.Stats()
	if hits != 0 || misses != 1 {
		t.Errorf("stats = (%d,%d), want (0,1)", hits, misses)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(4, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Put("q", []float32{1})
	clock = clock.Add(59 * time.Second)
	if _, ok := c.Get("q"); !ok {
		t.Fatal("entry expired before its TTL")
	}
	clock = clock.Add(2 * time.Second)
	if _, ok := c.Get("q"); ok {
		t.Fatal("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Error("expired entry not removed on touch")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})

	// Touch a so b becomes the eviction victim.
	c.Get("a")
	c.Put("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("new entry missing")
	}
}

func TestCache_PutRefreshesExisting(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", []float32{1})
	c.Put("a", []float32{7})

	got, ok := c.Get("a")
	if !ok || got[0] != 7 {
		t.Errorf("Get = (%v,%v), want refreshed value", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
