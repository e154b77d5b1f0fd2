package cache

import (
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Policy selects the eviction strategy of a query cache.
type Policy string

const (
	PolicyLRU Policy = "lru"
	Policy2Q  Policy = "2q"
)

// ParsePolicy accepts "lru" and "2q" case-insensitively. Empty means LRU.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyLRU:
		return PolicyLRU, nil
	case Policy2Q:
		return Policy2Q, nil
	}
	return "", fmt.Errorf("unknown cache policy %q", s)
}

// QueryCache is a bounded, concurrency-safe key/value cache.
type QueryCache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V)
	Len() int
	Purge()
}

type lruStore[K comparable, V any] struct {
	c *lru.Cache[K, V]
}

func (s lruStore[K, V]) Get(key K) (V, bool) { return s.c.Get(key) }
func (s lruStore[K, V]) Add(key K, value V)  { s.c.Add(key, value) }
func (s lruStore[K, V]) Len() int            { return s.c.Len() }
func (s lruStore[K, V]) Purge()              { s.c.Purge() }

// Counted wraps a QueryCache and counts hits, misses and evictions.
type Counted[K comparable, V any] struct {
	store     QueryCache[K, V]
	policy    Policy
	size      int
	hits      counter
	misses    counter
	evictions counter
}

// NewQueryCache creates a cache holding at most size entries.
func NewQueryCache[K comparable, V any](policy Policy, size int) (*Counted[K, V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("query cache size must be positive, got %d", size)
	}

	c := &Counted[K, V]{policy: policy, size: size}
	switch policy {
	case PolicyLRU, "":
		l, err := lru.NewWithEvict[K, V](size, func(K, V) { c.evictions.inc() })
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		c.store = lruStore[K, V]{l}
		c.policy = PolicyLRU
	case Policy2Q:
		q, err := lru.New2Q[K, V](size)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		c.store = q
	default:
		return nil, fmt.Errorf("unknown cache policy %q", policy)
	}
	return c, nil
}

func (c *Counted[K, V]) Get(key K) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.inc()
	} else {
		c.misses.inc()
	}
	return v, ok
}

func (c *Counted[K, V]) Add(key K, value V) { c.store.Add(key, value) }
func (c *Counted[K, V]) Len() int           { return c.store.Len() }
func (c *Counted[K, V]) Purge()             { c.store.Purge() }

// QueryStats is a snapshot of a query cache.
type QueryStats struct {
	Policy    Policy `json:"policy"`
	Size      int    `json:"size"`
	Len       int    `json:"len"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Stats returns current counters. Evictions are only tracked for LRU.
func (c *Counted[K, V]) Stats() QueryStats {
	return QueryStats{
		Policy:    c.policy,
		Size:      c.size,
		Len:       c.store.Len(),
		Hits:      c.hits.load(),
		Misses:    c.misses.load(),
		Evictions: c.evictions.load(),
	}
}

type counter struct{ n atomic.Uint64 }

func (c *counter) inc()         { c.n.Add(1) }
func (c *counter) load() uint64 { return c.n.Load() }
