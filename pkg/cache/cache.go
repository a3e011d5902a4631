package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options controls how long failed loads are remembered. A zero NegativeTTL
// means failures are not stored; concurrent loads for the same key are still
// collapsed into one. Successful loads are never stored.
type Options struct {
	NegativeTTL time.Duration
	MaxEntries  int
}

type MetricsHooks struct {
	OnHit   func(labels map[string]string)
	OnMiss  func(labels map[string]string)
	OnStore func(labels map[string]string)
}

type entry struct {
	err       error
	expiresAt time.Time
}

// Cache is a keyed loader front with singleflight de-duplication, a negative
// TTL for failed loads and FIFO eviction.
type Cache[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
}

// SnapshotEntry is a remembered failure.
type SnapshotEntry struct {
	Key       string
	Err       error
	ExpiresAt time.Time
}

func New[V any](opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		items:   make(map[string]*entry),
		order:   make([]string, 0, 64),
		opts:    opts,
		metrics: hooks,
	}
}

// Loader returns (value, true, nil) on success. (zero, false, err) records a
// negative entry when NegativeTTL is set.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	var zero V

	c.mu.RLock()
	e, found := c.items[key]
	c.mu.RUnlock()
	if found {
		if time.Now().Before(e.expiresAt) {
			c.hook(c.metrics.OnHit)
			return zero, false, e.err
		}
		c.Delete(key)
	}

	c.hook(c.metrics.OnMiss)
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		// A load cut short by its caller says nothing about the key.
		if !ok && ctx.Err() == nil {
			c.remember(key, err)
		}
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	if !res.ok {
		return zero, false, res.err
	}
	return res.val, true, nil
}

func (c *Cache[V]) remember(key string, err error) {
	if c.opts.NegativeTTL <= 0 {
		return
	}

	c.mu.Lock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = &entry{err: err, expiresAt: time.Now().Add(c.opts.NegativeTTL)}
	c.evictIfNeeded()
	c.mu.Unlock()

	c.hook(c.metrics.OnStore)
}

func (c *Cache[V]) hook(fn func(map[string]string)) {
	if fn == nil {
		return
	}
	fn(map[string]string{"negative": "true"})
}

func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 || len(c.items) <= c.opts.MaxEntries {
		return
	}
	excess := len(c.items) - c.opts.MaxEntries
	for excess > 0 && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
		excess--
	}
}

// Snapshot returns the remembered failures, oldest first. Expired entries
// that have not been reloaded yet are included.
func (c *Cache[V]) Snapshot() []SnapshotEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SnapshotEntry, 0, len(c.items))
	for _, k := range c.order {
		e := c.items[k]
		out = append(out, SnapshotEntry{Key: k, Err: e.err, ExpiresAt: e.expiresAt})
	}
	return out
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.removeFromOrder(key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.order = c.order[:0]
	c.mu.Unlock()
}
