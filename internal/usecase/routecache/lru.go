package routecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

type lruEntry struct {
	key   string
	entry domain.CacheEntry
}

// lru is a size-bounded map of cache entries. Most recently used at back.
type lru struct {
	maxSize int

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

func newLRU(maxSize int) *lru {
	return &lru{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
	}
}

func (c *lru) get(key string) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return domain.CacheEntry{}, false
	}
	c.order.MoveToBack(elem)
	return elem.Value.(*lruEntry).entry, true
}

func (c *lru) put(key string, e domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).entry = e
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	c.items[key] = c.order.PushBack(&lruEntry{key: key, entry: e})
}

func (c *lru) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// sweep drops every entry expired at now and returns how many went.
func (c *lru) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		le := elem.Value.(*lruEntry)
		if le.entry.Expired(now) {
			c.order.Remove(elem)
			delete(c.items, le.key)
			n++
		}
		elem = next
	}
	return n
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// window tracks hit/miss outcomes of the last n lookups.
type window struct {
	mu     sync.Mutex
	slots  []bool
	next   int
	filled int
	hits   int
}

func newWindow(n int) *window {
	return &window{slots: make([]bool, n)}
}

func (w *window) record(hit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == len(w.slots) {
		if w.slots[w.next] {
			w.hits--
		}
	} else {
		w.filled++
	}
	w.slots[w.next] = hit
	if hit {
		w.hits++
	}
	w.next = (w.next + 1) % len(w.slots)
}

func (w *window) rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	return float64(w.hits) / float64(w.filled)
}
