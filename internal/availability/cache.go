package availability

import (
	"sync"
	"time"

	"motorent/internal/models"
)

// DefaultTTL is how long an availability result stays fresh.
const DefaultTTL = 60 * time.Second

type entry struct {
	query    Query
	units    []models.RentalUnit
	storedAt time.Time
}

// Cache is an in-memory TTL cache of availability results.
//
// Expired entries are evicted lazily on access; there is no background sweep.
// Concurrent misses for the same key are not coalesced, so two callers racing on
// a cold key may both hit the network.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewCache creates a cache. A non-positive ttl selects DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the units stored for q. The returned slice is the one passed to
// Put and must be treated as read-only.
func (c *Cache) Get(q Query) ([]models.RentalUnit, bool) {
	key := q.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.units, true
}

// Put stores units for q, replacing any previous entry.
func (c *Cache) Put(q Query, units []models.RentalUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[q.Key()] = entry{query: q, units: units, storedAt: c.now()}
}

// Invalidate drops the entry for q.
func (c *Cache) Invalidate(q Query) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, q.Key())
}

// InvalidateMatching drops every entry whose query satisfies match and returns
// the dropped queries.
func (c *Cache) InvalidateMatching(match func(Query) bool) []Query {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped []Query
	for key, e := range c.entries {
		if match(e.query) {
			delete(c.entries, key)
			dropped = append(dropped, e.query)
		}
	}
	return dropped
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
