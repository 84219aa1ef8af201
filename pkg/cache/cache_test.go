package cache

import (
	"context"
	"testing"
	"time"
)

func TestCacheGetSetExpires(t *testing.T) {
	c := NewCache(CacheConfig{DefaultTTL: 20 * time.Millisecond, CleanupInterval: time.Hour})
	c.Set("k1", "v1", 0)

	if v, ok := c.Get("k1"); !ok || v != "v1" {
		t.Fatalf("Get() = (%v, %v), want (v1, true)", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCacheInvalidateVersion(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Set("k1", "v1", time.Minute)
	before := c.GetCurrentVersion()

	c.InvalidateVersion()

	if c.GetCurrentVersion() != before+1 {
		t.Errorf("GetCurrentVersion() = %d, want %d", c.GetCurrentVersion(), before+1)
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("expected entries cleared after InvalidateVersion")
	}
}

func TestCacheInvalidatePattern(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Set("order:1", "a", time.Minute)
	c.Set("order:2", "b", time.Minute)
	c.Set("customer:1", "c", time.Minute)

	c.InvalidatePattern("order:")

	if _, ok := c.Get("order:1"); ok {
		t.Error("expected order:1 evicted")
	}
	if _, ok := c.Get("customer:1"); !ok {
		t.Error("expected customer:1 to survive")
	}
}

func TestTTLCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)

	c.Set(ctx, "seq:42", "done")
	if v, ok := c.Get(ctx, "seq:42"); !ok || v != "done" {
		t.Fatalf("Get() = (%v, %v), want (done, true)", v, ok)
	}

	c.Delete(ctx, "seq:42")
	if _, ok := c.Get(ctx, "seq:42"); ok {
		t.Error("expected entry deleted")
	}
}
