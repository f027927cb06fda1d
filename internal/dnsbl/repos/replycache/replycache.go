package replycache

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/clock"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/utils"
)

var (
	ErrInvalidSize = errors.New("cache size must be positive")
)

// Reply is the cached outcome of one blacklist lookup. A negative answer is
// cached as Succeeded with an empty Address.
type Reply struct {
	Address   string
	Succeeded bool
	expires   time.Time
}

// Expired reports whether the reply is stale at now.
func (r Reply) Expired(now time.Time) bool {
	return !now.Before(r.expires)
}

// replyCache is an in-memory TTL-aware cache of lookup outcomes keyed by
// lookup name, backed by an LRU.
type replyCache struct {
	lru   *lru.Cache[string, Reply]
	clock clock.Clock
}

// New returns a replyCache holding at most size names.
func New(size int, clk clock.Clock) (*replyCache, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	cache, err := lru.New[string, Reply](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &replyCache{lru: cache, clock: clk}, nil
}

// Set stores the outcome for name for ttl. Non-positive TTLs are not cached.
func (c *replyCache) Set(name string, r Reply, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.expires = c.clock.Now().Add(ttl)
	c.lru.Add(utils.CanonicalDNSName(name), r)
}

// Get returns the cached outcome for name if present and not expired.
// Expired entries are removed.
func (c *replyCache) Get(name string) (Reply, bool) {
	key := utils.CanonicalDNSName(name)
	r, found := c.lru.Get(key)
	if !found {
		return Reply{}, false
	}
	if r.Expired(c.clock.Now()) {
		c.lru.Remove(key)
		return Reply{}, false
	}
	return r, true
}

// Delete removes the entry for name.
func (c *replyCache) Delete(name string) {
	c.lru.Remove(utils.CanonicalDNSName(name))
}

// Purge empties the cache.
func (c *replyCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached names, including ones not yet evicted
// after expiry.
func (c *replyCache) Len() int {
	return c.lru.Len()
}
