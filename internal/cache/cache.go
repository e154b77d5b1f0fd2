// Package cache provides caching for query results and encoded responses.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Config contains cache configuration.
type Config struct {
	ResponseCacheSizeMB int
	ResponseTTL         time.Duration
}

// Manager holds the byte cache shared by all datasets for encoded
// responses such as rendered previews.
type Manager struct {
	responses *bigcache.BigCache
	hits      counter
	misses    counter
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	ttl := cfg.ResponseTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	responseCacheConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 256,
		MaxEntrySize:       64 * 1024, // typical preview PNG
		HardMaxCacheSize:   cfg.ResponseCacheSizeMB,
		Verbose:            false,
	}

	responses, err := bigcache.New(context.Background(), responseCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Manager{responses: responses}, nil
}

// GetResponse retrieves an encoded response from cache.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	data, err := m.responses.Get(key)
	if err != nil {
		m.misses.inc()
		return nil, false
	}
	m.hits.inc()
	return data, true
}

// SetResponse stores an encoded response in cache.
func (m *Manager) SetResponse(key string, data []byte) error {
	return m.responses.Set(key, data)
}

// ResponseKey builds a cache key such as "preview:default:45.1/44.9/10.2/10/1000/512".
func ResponseKey(kind, dataset string, parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return kind + ":" + dataset + ":" + strings.Join(s, "/")
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"response_cache_len":    m.responses.Len(),
		"response_cache_cap":    m.responses.Capacity(),
		"response_cache_hits":   m.hits.load(),
		"response_cache_misses": m.misses.load(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.responses.Close()
}
