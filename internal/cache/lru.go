package cache

import (
	"container/list"
	"sync"
)

// LRU is a byte-bounded least-recently-used cache. Eviction considers both
// the entry count and the total payload size, whichever limit is hit first.
type LRU struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int64
	curBytes   int64

	ll    *list.List
	items map[string]*list.Element
}

type entry struct {
	key   string
	value []byte
}

func NewLRU(maxEntries int, maxBytes int64) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

func (c *LRU) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		e := el.Value.(*entry)
		c.curBytes += int64(len(value)) - int64(len(e.value))
		e.value = value
		c.evict()
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value})
	c.items[key] = el
	c.curBytes += int64(len(value))
	c.evict()
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// evict drops the oldest entries until both limits are satisfied. Caller
// holds the lock.
func (c *LRU) evict() {
	for c.ll.Len() > 0 && (c.ll.Len() > c.maxEntries || c.curBytes > c.maxBytes) {
		el := c.ll.Back()
		e := el.Value.(*entry)
		c.ll.Remove(el)
		delete(c.items, e.key)
		c.curBytes -= int64(len(e.value))
	}
}
