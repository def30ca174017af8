package caching

import "errors"

// MemCache is an in-process, TTL-bound key value store. Quotes, volumes and
// token lists each get their own instance with independent ttl and size bounds.
type MemCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Has(key string) bool
	Clear()
	Stats() CacheStats
}

type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Size      int    `json:"size"`
}

var ErrInvalidCacheConfig = errors.New("cache requires positive ttl and max size")
