package catalog

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched catalog stays fresh when the
// caller does not configure a TTL.
const DefaultTTL = 15 * time.Minute

// Cache is a caller-owned catalog cache with time-based expiry.
//
// The cache is explicitly constructed and passed where needed; there
// is no process-wide catalog state. The clock is injectable so expiry
// is testable without sleeping.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	catalog   *Catalog
	fetchedAt time.Time
}

// NewCache creates a cache over the given fetcher. A non-positive ttl
// falls back to DefaultTTL.
func NewCache(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Catalog returns the cached catalog, refetching if the cache is
// empty or stale.
func (c *Cache) Catalog(ctx context.Context) (*Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.catalog != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.catalog, nil
	}

	cat, err := c.fetcher.Fetch(ctx)
	if err != nil {
		// A stale catalog beats no catalog when the remote is down.
		if c.catalog != nil {
			return c.catalog, nil
		}
		return nil, err
	}

	c.catalog = cat
	c.fetchedAt = c.now()
	return c.catalog, nil
}

// Resolve fetches (or reuses) the catalog and resolves one channel.
func (c *Cache) Resolve(ctx context.Context, addonID string, key ChannelKey) (*Channel, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Resolve(addonID, key)
}

// Invalidate drops the cached catalog so the next read refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = nil
	c.fetchedAt = time.Time{}
}
