package decompose

import (
	"sync"
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

type cacheEntry struct {
	items  []models.PlanItem
	stored time.Time
}

// planCache remembers recent decompositions for a fixed TTL.
type planCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]cacheEntry
}

func newPlanCache(ttl time.Duration, max int) *planCache {
	return &planCache{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *planCache) get(key string) ([]models.PlanItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return append([]models.PlanItem(nil), e.items...), true
}

func (c *planCache) put(key string, items []models.PlanItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.max {
		for k, e := range c.entries {
			if now.Sub(e.stored) >= c.ttl {
				delete(c.entries, k)
			}
		}
	}
	// Still full: drop an arbitrary entry.
	if len(c.entries) >= c.max {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = cacheEntry{items: append([]models.PlanItem(nil), items...), stored: now}
}

func (c *planCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
