package dataset

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedSample struct {
	features []float32
	label    int32
}

// CachedDataset wraps a Dataset with an LRU cache over decoded samples.
// Useful when the underlying dataset decodes from disk and epochs revisit
// the same indices.
type CachedDataset struct {
	inner Dataset
	cache *lru.Cache[int, cachedSample]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedDataset caches up to maxEntries samples from ds.
func NewCachedDataset(ds Dataset, maxEntries int) (*CachedDataset, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxEntries)
	}
	cache, err := lru.New[int, cachedSample](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample cache: %w", err)
	}
	return &CachedDataset{inner: ds, cache: cache}, nil
}

// Len returns the number of samples in the underlying dataset.
func (c *CachedDataset) Len() int {
	return c.inner.Len()
}

// Sample returns the cached sample when present, loading and caching it
// otherwise.
func (c *CachedDataset) Sample(idx int) ([]float32, int32, error) {
	if s, ok := c.cache.Get(idx); ok {
		c.hits.Add(1)
		return s.features, s.label, nil
	}
	c.misses.Add(1)

	features, label, err := c.inner.Sample(idx)
	if err != nil {
		return nil, 0, err
	}
	c.cache.Add(idx, cachedSample{features: features, label: label})
	return features, label, nil
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats returns a snapshot of the cache counters.
func (c *CachedDataset) Stats() CacheStats {
	return CacheStats{
		Entries: c.cache.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
