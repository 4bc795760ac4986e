package authz

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheTTL bounds how stale a cached resolution may get without any
	// invalidation signal arriving.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize caps entries per cache; far beyond the number of
	// concurrently active users in one process.
	DefaultCacheSize = 4096
)

// Cache holds the two process-wide permission caches: resolved role bases
// keyed by role name and resolved user sets keyed by user id. Both share one
// TTL policy. Exactly one Cache is constructed per process and injected into
// every consumer; there are no package-level cache globals.
//
// The underlying LRUs are safe for concurrent readers and writers and evict
// expired entries on read. Values are deep-copied on both Put and Get so an
// invalidation can never retroactively corrupt a result already handed out.
type Cache struct {
	roles   *lru.LRU[string, PermissionSet]
	users   *lru.LRU[string, PermissionSet]
	metrics CacheMetrics

	genMu    sync.Mutex
	userGens map[string]uint64
	usersGen uint64
}

// CacheMetrics receives cache events; nil disables instrumentation.
type CacheMetrics interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	CacheInvalidation(kind string)
}

const (
	cacheKindRole = "role"
	cacheKindUser = "user"
)

// NewCache constructs a Cache. Non-positive ttl or size fall back to
// defaults; metrics may be nil.
func NewCache(ttl time.Duration, size int, metrics CacheMetrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		roles:    lru.NewLRU[string, PermissionSet](size, nil, ttl),
		users:    lru.NewLRU[string, PermissionSet](size, nil, ttl),
		metrics:  metrics,
		userGens: make(map[string]uint64),
	}
}

// GetRole returns the cached base set for a role name, or a miss when the
// entry is absent or expired.
func (c *Cache) GetRole(role string) (PermissionSet, bool) {
	ps, ok := c.roles.Get(role)
	c.observe(cacheKindRole, ok)
	if !ok {
		return nil, false
	}
	return ps.Clone(), true
}

// PutRole caches the resolved base set for a role name.
func (c *Cache) PutRole(role string, ps PermissionSet) {
	c.roles.Add(role, ps.Clone())
}

// GetUser returns the cached effective set for a user id, or a miss.
func (c *Cache) GetUser(userID string) (PermissionSet, bool) {
	ps, ok := c.users.Get(userID)
	c.observe(cacheKindUser, ok)
	if !ok {
		return nil, false
	}
	return ps.Clone(), true
}

// PutUser caches the resolved effective set for a user id.
func (c *Cache) PutUser(userID string, ps PermissionSet) {
	c.users.Add(userID, ps.Clone())
}

// InvalidateRole drops the cached resolution for one role name.
func (c *Cache) InvalidateRole(role string) {
	c.roles.Remove(role)
	c.invalidated(cacheKindRole)
}

// UserGeneration returns a token that changes every time the user's entry is
// invalidated, individually or via a full flush. Resolvers snapshot it before
// loading and compare before writing back, so an invalidation that lands while
// a resolution is in flight is never overwritten with the older result.
func (c *Cache) UserGeneration(userID string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.usersGen + c.userGens[userID]
}

// InvalidateUser drops the cached resolution for one user id.
func (c *Cache) InvalidateUser(userID string) {
	c.genMu.Lock()
	c.userGens[userID]++
	c.genMu.Unlock()
	c.users.Remove(userID)
	c.invalidated(cacheKindUser)
}

// InvalidateAllUsers flushes the whole user cache. Role-level mutations
// potentially affect many users; a full flush is the cheapest correct action
// since per-role membership is not tracked here.
func (c *Cache) InvalidateAllUsers() {
	c.genMu.Lock()
	c.usersGen++
	c.genMu.Unlock()
	c.users.Purge()
	c.invalidated(cacheKindUser)
}

// InvalidateAll flushes both caches.
func (c *Cache) InvalidateAll() {
	c.genMu.Lock()
	c.usersGen++
	c.genMu.Unlock()
	c.roles.Purge()
	c.users.Purge()
	c.invalidated(cacheKindRole)
	c.invalidated(cacheKindUser)
}

func (c *Cache) observe(kind string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHit(kind)
	} else {
		c.metrics.CacheMiss(kind)
	}
}

func (c *Cache) invalidated(kind string) {
	if c.metrics != nil {
		c.metrics.CacheInvalidation(kind)
	}
}
