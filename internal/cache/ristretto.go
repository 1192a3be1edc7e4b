package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Default sizing for the certificate cache. A key set is stored as a single
// entry per namespace, so the cache stays tiny.
const (
	DefaultNumCounters int64 = 1 << 10
	DefaultMaxCost     int64 = 1 << 8
	DefaultBufferItems int64 = 64
)

type RistrettoCache struct {
	cache *ristretto.Cache
}

func NewRistrettoCache(numCounters, maxCost int64, bufferItems int64) (*RistrettoCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RistrettoCache{cache: cache}, nil
}

// NewDefaultRistrettoCache returns a cache sized for key sets.
func NewDefaultRistrettoCache() (*RistrettoCache, error) {
	return NewRistrettoCache(DefaultNumCounters, DefaultMaxCost, DefaultBufferItems)
}

func (r *RistrettoCache) Get(key string) (any, bool) {
	return r.cache.Get(key)
}

// Set stores value and blocks until it is visible to Get. Ristretto applies
// writes asynchronously; a refreshed key set must be readable by the next
// verification.
func (r *RistrettoCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	ok := r.cache.SetWithTTL(key, value, cost, ttl)
	r.cache.Wait()
	return ok
}

func (r *RistrettoCache) Del(key string) {
	r.cache.Del(key)
}

// Close stops the cache's background goroutines.
func (r *RistrettoCache) Close() { r.cache.Close() }
