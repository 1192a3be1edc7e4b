// Package cache holds the in-process key/value backends used by the
// certificate store.
package cache

import (
	"time"
)

// Cache is a TTL-aware key/value cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}
