package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

// Cache stores model output per feature-vector key.
// Get returns (value, true, nil) on hit and (zero, false, nil) on miss or expiry.
type Cache interface {
	Get(ctx context.Context, key string) (models.ModelOutput, bool, error)
	Set(ctx context.Context, key string, value models.ModelOutput, ttl time.Duration) error
}

// InMemoryCache is a mutex-guarded map with per-entry expiry. Expired entries are
// dropped on access and by Sweep.
type InMemoryCache struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	value     models.ModelOutput
	expiresAt time.Time
}

// NewInMemoryCache returns an empty cache holding at most maxSize entries (0 = unbounded).
// When full, expired entries are swept first; if none expired, the write is dropped.
func NewInMemoryCache(maxSize int) *InMemoryCache {
	return &InMemoryCache{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ModelOutput, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ModelOutput{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if e, still := c.data[key]; still && e.expiresAt.Equal(entry.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.ModelOutput{}, false, nil
	}
	return entry.value, true, nil
}

// Set implements Cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ModelOutput, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.sweepLocked()
		if len(c.data) >= c.maxSize {
			return nil
		}
	}
	c.data[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Sweep removes expired entries.
func (c *InMemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *InMemoryCache) sweepLocked() {
	now := c.now()
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
}
