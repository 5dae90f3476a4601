package storage

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/stellarlinkco/mnemo/internal/config"
)

type ristrettoCache struct {
	cache *ristretto.Cache
}

func newRistrettoCache(cfg *config.Config) (HotCache, error) {
	capacity := int64(cfg.Tiers.HotCapacity)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("new ristretto cache: %w", err)
	}
	return &ristrettoCache{cache: cache}, nil
}

func (c *ristrettoCache) Get(key string) ([]byte, bool) {
	value, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := value.([]byte)
	return data, ok
}

func (c *ristrettoCache) Put(key string, value []byte, ttl time.Duration) {
	if ttl > 0 {
		c.cache.SetWithTTL(key, value, 1, ttl)
	} else {
		c.cache.Set(key, value, 1)
	}
	// Set is buffered; Wait makes the write visible to immediate readers.
	// Ingest rates here are nowhere near ristretto's async design point.
	c.cache.Wait()
}

func (c *ristrettoCache) Delete(key string) {
	c.cache.Del(key)
}

func (c *ristrettoCache) Close() {
	c.cache.Close()
}
