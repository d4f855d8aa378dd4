// Package stockcache holds the client's in-memory projection of the drop
// catalog. It is a pure mirror: the remote catalog is the source of truth,
// the cache is replaced wholesale on fetch and field-patched by push
// events. Rendering layers observe changes via Subscribe, never by polling.
package stockcache

import (
	"sync"

	"github.com/mcdev12/dropwatch/internal/domain"
)

// Cache owns the drop collection. Server-given ordering is preserved by
// List; lookups are O(1) through a positional index.
type Cache struct {
	mu    sync.RWMutex
	drops []domain.Drop
	index map[string]int // drop ID -> position in drops

	subMu sync.Mutex
	subs  map[int]func()
	nextSub int
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		index: make(map[string]int),
		subs:  make(map[int]func()),
	}
}

// ReplaceAll swaps the entire collection for the given drops, preserving
// their order. Used after a full fetch.
func (c *Cache) ReplaceAll(drops []domain.Drop) {
	c.mu.Lock()
	c.drops = make([]domain.Drop, len(drops))
	copy(c.drops, drops)
	c.index = make(map[string]int, len(drops))
	for i, d := range c.drops {
		c.index[d.ID] = i
	}
	c.mu.Unlock()
	c.notify()
}

// PatchStock sets the stock count for one drop. A push event for a drop
// this client has not loaded is a no-op, not an error: the cache never
// fabricates entries. The value is stored as sent; range enforcement is
// the server's job. Returns whether the drop was known.
func (c *Cache) PatchStock(dropID string, newStock int) bool {
	c.mu.Lock()
	i, ok := c.index[dropID]
	if ok {
		c.drops[i].Stock = newStock
	}
	c.mu.Unlock()
	if ok {
		c.notify()
	}
	return ok
}

// Upsert inserts the drop or replaces an existing entry with the same ID
// in place. New drops go to the front, matching the catalog's
// newest-first ordering.
func (c *Cache) Upsert(drop domain.Drop) {
	c.mu.Lock()
	if i, ok := c.index[drop.ID]; ok {
		c.drops[i] = drop
	} else {
		c.drops = append([]domain.Drop{drop}, c.drops...)
		c.index = make(map[string]int, len(c.drops))
		for i, d := range c.drops {
			c.index[d.ID] = i
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Remove deletes a drop. Unknown IDs are a no-op.
func (c *Cache) Remove(dropID string) {
	c.mu.Lock()
	i, ok := c.index[dropID]
	if ok {
		c.drops = append(c.drops[:i], c.drops[i+1:]...)
		c.index = make(map[string]int, len(c.drops))
		for j, d := range c.drops {
			c.index[d.ID] = j
		}
	}
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

// Get returns the drop by ID.
func (c *Cache) Get(dropID string) (domain.Drop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[dropID]
	if !ok {
		return domain.Drop{}, false
	}
	return c.drops[i], true
}

// List returns a copy of the collection in server order.
func (c *Cache) List() []domain.Drop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Drop, len(c.drops))
	copy(out, c.drops)
	return out
}

// Len returns the number of drops held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drops)
}

// Subscribe registers fn to run after every mutation and returns a
// function that removes the subscription.
func (c *Cache) Subscribe(fn func()) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify() {
	c.subMu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
