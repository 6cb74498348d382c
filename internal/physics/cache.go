package physics

import (
	"sync"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// CachedModel wraps a Predictor with an in-memory LRU cache keyed by the
// event fingerprint. Replayed or revised-but-unchanged events skip the
// integrators entirely. Callers receive their own copy of a cached
// prediction.
type CachedModel struct {
	inner    Predictor
	cache    *lruCache
	observer func(hit bool)
}

// NewCachedModel creates a cache decorator around a physics predictor.
// observer, if non-nil, is called on every lookup.
func NewCachedModel(inner Predictor, maxEntries int, observer func(hit bool)) *CachedModel {
	return &CachedModel{
		inner:    inner,
		cache:    newLRUCache(maxEntries),
		observer: observer,
	}
}

func (c *CachedModel) Predict(event domain.EventRecord) (Prediction, error) {
	key := domain.Fingerprint(event)
	if pred, ok := c.cache.get(key); ok {
		c.observe(true)
		return pred.Clone(), nil
	}
	c.observe(false)
	pred, err := c.inner.Predict(event)
	if err != nil {
		return pred, err
	}
	// Failures are not cached so a corrected calibration can be retried.
	c.cache.put(key, pred.Clone())
	return pred, nil
}

// Len returns the number of cached predictions.
func (c *CachedModel) Len() int {
	return c.cache.len()
}

func (c *CachedModel) observe(hit bool) {
	if c.observer != nil {
		c.observer(hit)
	}
}

// lruCache is a simple thread-safe LRU cache for Predictions.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value Prediction
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Prediction{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
