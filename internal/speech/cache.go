package speech

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type cacheKey struct {
	text   string
	voice  string
	locale string
}

type cacheEntry struct {
	handle    AudioHandle
	createdAt time.Time
}

type inflight struct {
	done   chan struct{}
	handle AudioHandle
	err    error
}

// Cache is a content-addressed synthesis cache keyed by (sanitized text,
// voice, locale). Entries are immutable once written; eviction is LRU and
// never correctness-affecting since synthesis can always be redone.
// Concurrent callers of the same key share a single provider invocation.
type Cache struct {
	inner      Synthesizer
	maxEntries int
	observe    func(hit bool)

	mu      sync.Mutex
	entries map[cacheKey]*list.Element
	order   *list.List // front = most recently used
	pending map[cacheKey]*inflight
}

type lruItem struct {
	key   cacheKey
	entry cacheEntry
}

func NewCache(inner Synthesizer, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Cache{
		inner:      inner,
		maxEntries: maxEntries,
		entries:    make(map[cacheKey]*list.Element),
		order:      list.New(),
		pending:    make(map[cacheKey]*inflight),
	}
}

// SetLookupObserver registers a callback invoked per lookup with the hit
// result. Set before first use; not synchronized with Synthesize.
func (c *Cache) SetLookupObserver(fn func(hit bool)) { c.observe = fn }

func (c *Cache) observeLookup(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// Synthesize returns the cached handle on hit. On miss it synthesizes once,
// even under concurrent identical requests (the shared greeting case), and
// only publishes fully synthesized audio.
func (c *Cache) Synthesize(ctx context.Context, text, voice, locale string) (AudioHandle, error) {
	key := cacheKey{text: text, voice: voice, locale: locale}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		h := el.Value.(*lruItem).entry.handle
		c.mu.Unlock()
		c.observeLookup(true)
		return h, nil
	}
	if fl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.observeLookup(false)
		select {
		case <-fl.done:
			return fl.handle, fl.err
		case <-ctx.Done():
			return AudioHandle{}, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.pending[key] = fl
	c.mu.Unlock()
	c.observeLookup(false)

	handle, err := c.inner.Synthesize(ctx, text, voice, locale)
	fl.handle, fl.err = handle, err

	c.mu.Lock()
	delete(c.pending, key)
	if err == nil {
		c.insert(key, handle)
	}
	c.mu.Unlock()
	close(fl.done)

	return handle, err
}

func (c *Cache) insert(key cacheKey, handle AudioHandle) {
	el := c.order.PushFront(&lruItem{key: key, entry: cacheEntry{handle: handle, createdAt: time.Now()}})
	c.entries[key] = el
	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruItem).key)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
