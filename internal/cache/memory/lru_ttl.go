package memory

import (
	"container/list"
	"sync"
	"time"
)

type item[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	size      int
}

// Config bounds an LRUTTL. MaxBytes <= 0 disables the byte budget.
type Config struct {
	MaxEntries int
	MaxBytes   int
	TTL        time.Duration
	// Now overrides time.Now, mostly for tests.
	Now func() time.Time
}

// Stats is a point-in-time view of cache occupancy.
type Stats struct {
	Entries   int
	Bytes     int
	Evictions uint64
	Expired   uint64
}

// LRUTTL is a threadsafe LRU cache with per-entry TTL and an optional byte
// budget.
type LRUTTL[K comparable, V any] struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[K]*list.Element
	maxEntries int
	maxBytes   int
	totalBytes int
	ttl        time.Duration
	now        func() time.Time

	evictions uint64
	expired   uint64
}

func NewLRUTTL[K comparable, V any](cfg Config) *LRUTTL[K, V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LRUTTL[K, V]{
		ll:         list.New(),
		items:      make(map[K]*list.Element),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.TTL,
		now:        cfg.Now,
	}
}

func (c *LRUTTL[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		return zero, false
	}
	it := ele.Value.(*item[K, V])
	if c.now().After(it.expiresAt) {
		c.removeElement(ele)
		c.expired++
		return zero, false
	}
	c.ll.MoveToFront(ele)
	return it.value, true
}

// Set stores value under key, charging size bytes against the budget. An
// entry larger than the whole budget is not stored.
func (c *LRUTTL[K, V]) Set(key K, value V, size int) {
	if c == nil {
		return
	}
	if size < 0 {
		size = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
	if c.maxBytes > 0 && size > c.maxBytes {
		return
	}
	it := &item[K, V]{
		key:       key,
		value:     value,
		size:      size,
		expiresAt: c.now().Add(c.ttl),
	}
	c.items[key] = c.ll.PushFront(it)
	c.totalBytes += size
	for c.ll.Len() > c.maxEntries || (c.maxBytes > 0 && c.totalBytes > c.maxBytes) {
		c.removeElement(c.ll.Back())
		c.evictions++
	}
}

func (c *LRUTTL[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

func (c *LRUTTL[K, V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[K]*list.Element)
	c.totalBytes = 0
}

func (c *LRUTTL[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.ll.Len(),
		Bytes:     c.totalBytes,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

func (c *LRUTTL[K, V]) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	it := ele.Value.(*item[K, V])
	delete(c.items, it.key)
	c.totalBytes -= it.size
}
