package translator

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/roach88/navq/internal/plan"
)

// DefaultMaxPlans bounds a cache created without an explicit size.
const DefaultMaxPlans = 1024

// Cache holds compiled plans by cache key. Lookups take a read lock only;
// when the cache is full the oldest plan is evicted. Two compilations of
// the same key racing each other both store their plan and the last one
// wins, which is harmless because equal keys compile to equal plans.
//
// A cache belongs to one catalog. Call Invalidate when the model changes.
type Cache struct {
	mu    sync.RWMutex
	max   int
	plans map[string]*list.Element
	order *list.List // of *cacheEntry, oldest at the back

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	key  string
	plan *plan.Plan
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// NewCache returns a cache holding at most maxPlans plans. A non-positive
// maxPlans uses DefaultMaxPlans.
func NewCache(maxPlans int) *Cache {
	if maxPlans <= 0 {
		maxPlans = DefaultMaxPlans
	}
	return &Cache{
		max:   maxPlans,
		plans: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Get returns the plan stored under key.
func (c *Cache) Get(key string) (*plan.Plan, bool) {
	c.mu.RLock()
	var p *plan.Plan
	el, ok := c.plans[key]
	if ok {
		p = el.Value.(*cacheEntry).plan
	}
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return p, true
}

// Put stores p under key, replacing any plan already there.
func (c *Cache) Put(key string, p *plan.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.plans[key]; ok {
		el.Value.(*cacheEntry).plan = p
		return
	}
	for c.order.Len() >= c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.plans, oldest.Value.(*cacheEntry).key)
		c.evictions.Add(1)
	}
	c.plans[key] = c.order.PushFront(&cacheEntry{key: key, plan: p})
}

// Invalidate drops every plan. Statistics are kept.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}
