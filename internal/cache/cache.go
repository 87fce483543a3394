// Package cache provides TTL-keyed stores used to memoize expensive tool
// results and capability checks.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Stats reports cumulative counters of a cache instance.
type Stats struct {
	// Hits counts lookups that found an unexpired entry.
	Hits int64 `json:"hits"`
	// Misses counts lookups that found nothing or an expired entry.
	Misses int64 `json:"misses"`
	// Evictions counts entries removed because they expired or overflowed.
	Evictions int64 `json:"evictions"`
	// Size is the current number of stored entries.
	Size int `json:"size"`
}

// Options configures a Cache.
type Options struct {
	// TTL is the default time-to-live for entries.
	TTL time.Duration
	// MaxEntries bounds the number of entries; 0 means unbounded.
	MaxEntries int
	// SweepInterval enables the background expiry sweep when positive.
	SweepInterval time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Cache stores values for a limited time.
type Cache[V any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New creates a cache with the given options.
func New[V any](opts Options) *Cache[V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	maxEntries := opts.MaxEntries
	if maxEntries < 0 {
		maxEntries = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		stop:       make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(opts.SweepInterval)
	}
	return c
}

// TTL returns the default time-to-live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Has reports whether an unexpired entry exists. It counts toward hit and
// miss statistics like Get.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key, replacing any prior entry. A
// non-positive ttl uses the cache default.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem
	c.trimLocked()
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// Clear removes every entry. Counters are preserved.
func (c *Cache[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the cumulative counters and the current size.
func (c *Cache[V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[V])
		if now.After(e.expiresAt) {
			c.order.Remove(elem)
			delete(c.items, e.key)
			removed++
		}
		elem = prev
	}
	c.evictions.Add(int64(removed))
	return removed
}

// Close stops the background sweep. The cache stays usable.
func (c *Cache[V]) Close() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *Cache[V]) lookupLocked(key string) (*entry[V], bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry[V])
	if c.now().After(e.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		c.evictions.Add(1)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return e, true
}

func (c *Cache[V]) trimLocked() {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.items) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		e := elem.Value.(*entry[V])
		delete(c.items, e.key)
		c.order.Remove(elem)
		c.evictions.Add(1)
	}
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
