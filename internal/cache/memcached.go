package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

const keyPrefix = "cropadv:"

// maxRelativeExp is memcached's limit for relative expirations; larger values are read as unix time.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache on memcached. Values are JSON-encoded.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated server list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). Zero timeout or maxIdleConns keep
// the client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ModelOutput, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelOutput{}, false, err
	}
	item, err := c.client.Get(keyPrefix + key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.ModelOutput{}, false, nil
		}
		return models.ModelOutput{}, false, err
	}
	var out models.ModelOutput
	if err := json.Unmarshal(item.Value, &out); err != nil {
		return models.ModelOutput{}, false, err
	}
	return out, true, nil
}

// Set implements Cache. TTLs outside (0, 30d] fall back to one hour.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ModelOutput, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

func expirationSeconds(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Ping checks that every server is reachable.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes idle connections.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
