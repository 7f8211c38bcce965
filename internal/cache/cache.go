package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Cache is a concurrency-safe response cache with an optional TTL.
type Cache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache whose entries expire after ttl. A zero ttl never expires.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// GenerateCacheKey generates a cache key from texts
func GenerateCacheKey(texts ...string) string {
	h := sha256.New()
	for _, text := range texts {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "%d:", len(text))
		h.Write([]byte(text))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached response for key if present and not expired.
func (c *Cache) Get(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores response under key.
func (c *Cache) Put(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}
