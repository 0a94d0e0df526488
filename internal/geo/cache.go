package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Cache keeps recent VERIFIED/NOT_FOUND results in process memory so repeat
// orders to the same city don't spend provider quota.
type Cache struct {
	store *bigcache.BigCache
	once  sync.Once
}

// NewCache creates a cache with a global ttl and a hard size ceiling in MB.
func NewCache(ttl time.Duration, maxMB int) (*Cache, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxMB < 0 {
		maxMB = 0
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.HardMaxCacheSize = maxMB
	cfg.CleanWindow = time.Minute
	cfg.Verbose = false

	store, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("init geo cache: %w", err)
	}
	return &Cache{store: store}, nil
}

// Get returns the cached result for key.
func (c *Cache) Get(key string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	raw, err := c.store.Get(key)
	if err != nil {
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

// Set stores r unless it is an infrastructure failure.
func (c *Cache) Set(key string, r Result) {
	if c == nil || !r.Cacheable() {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	_ = c.store.Set(key, raw)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.Len()
}

// Close releases the cache. Later calls are no-ops.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.once.Do(func() { err = c.store.Close() })
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

func cacheKey(check Check, parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return string(check) + "|" + strings.Join(norm, "|")
}
