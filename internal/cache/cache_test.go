package cache

import (
	"sync"
	"testing"
	"time"
)

func TestResponseKey(t *testing.T) {
	got := ResponseKey("preview", "default", 45.1, 44.9, 10.2, 10.0, 1000, 512)
	want := "preview:default:45.1/44.9/10.2/10/1000/512"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if ResponseKey("preview", "a", 1) == ResponseKey("preview", "b", 1) {
		t.Fatal("expected dataset to be part of the key")
	}
}

func TestManagerResponses(t *testing.T) {
	m, err := NewManager(Config{ResponseCacheSizeMB: 8, ResponseTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetResponse("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := m.SetResponse("k", []byte("png")); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}
	data, ok := m.GetResponse("k")
	if !ok || string(data) != "png" {
		t.Fatalf("expected hit with %q, got %q (ok=%v)", "png", data, ok)
	}

	stats := m.Stats()
	if stats["response_cache_hits"] != uint64(1) || stats["response_cache_misses"] != uint64(1) {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyLRU, false},
		{"lru", PolicyLRU, false},
		{" 2Q ", Policy2Q, false},
		{"arc", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePolicy(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQueryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewQueryCache[string, int](PolicyLRU, 2)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}

	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a") // a is now most recent
	c.Add("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %d (ok=%v)", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Evictions != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestQueryCacheTwoQueue(t *testing.T) {
	c, err := NewQueryCache[int, string](Policy2Q, 4)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	for i := 0; i < 10; i++ {
		c.Add(i, "v")
	}
	if c.Len() > 4 {
		t.Fatalf("expected at most 4 entries, got %d", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d", c.Len())
	}
	if c.Stats().Policy != Policy2Q {
		t.Fatalf("expected 2q policy, got %q", c.Stats().Policy)
	}
}

func TestQueryCacheRejectsBadConfig(t *testing.T) {
	if _, err := NewQueryCache[string, int](PolicyLRU, 0); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := NewQueryCache[string, int]("arc", 8); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestQueryCacheConcurrentAccess(t *testing.T) {
	c, err := NewQueryCache[int, int](PolicyLRU, 16)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := (g + i) % 32
				if v, ok := c.Get(k); ok && v != k*k {
					t.Errorf("corrupted entry %d: %d", k, v)
					return
				}
				c.Add(k, k*k)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Fatalf("expected at most 16 entries, got %d", c.Len())
	}
}
