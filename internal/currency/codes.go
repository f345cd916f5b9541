package currency

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// CodeCache resolves currency identifiers to ISO codes.
type CodeCache struct {
	codes *cache.Cache
}

// NewCodeCache creates an empty cache. Entries expire after expiration; use
// cache.NoExpiration for a cache that lives as long as one batch.
func NewCodeCache(expiration time.Duration) *CodeCache {
	cleanup := 2 * expiration
	if expiration <= 0 {
		cleanup = 0
	}
	return &CodeCache{codes: cache.New(expiration, cleanup)}
}

// NewCodeCacheFrom creates a non-expiring cache filled from codes.
func NewCodeCacheFrom(codes map[uuid.UUID]string) *CodeCache {
	c := NewCodeCache(cache.NoExpiration)
	for id, code := range codes {
		c.Set(id, code)
	}
	return c
}

// Set stores the ISO code of a currency identifier.
func (c *CodeCache) Set(id uuid.UUID, code string) {
	c.codes.Set(id.String(), normalizeCode(code), cache.DefaultExpiration)
}

// Code returns the ISO code of id. An invalid id is never found.
func (c *CodeCache) Code(id uuid.NullUUID) (string, bool) {
	if c == nil || !id.Valid {
		return "", false
	}
	v, found := c.codes.Get(id.UUID.String())
	if !found {
		return "", false
	}
	return v.(string), true
}

// Len returns the number of cached codes.
func (c *CodeCache) Len() int {
	if c == nil {
		return 0
	}
	return c.codes.ItemCount()
}
