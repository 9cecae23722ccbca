package cache

import (
	"sort"
	"sync"

	"github.com/cuemby/scaler/pkg/types"
)

// Entry is one cached service configuration
type Entry struct {
	ServiceID string
	Config    *types.ServiceConfig
}

// Cache maps service IDs to their last known valid configuration.
// It has a single writer (the reconciler) and may be read concurrently.
type Cache struct {
	mu      sync.RWMutex
	configs map[string]*types.ServiceConfig
}

// New creates an empty cache
func New() *Cache {
	return &Cache{configs: make(map[string]*types.ServiceConfig)}
}

// Upsert creates or overwrites the entry for id
func (c *Cache) Upsert(id string, cfg *types.ServiceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[id] = cfg
}

// Remove deletes the entry for id and reports whether one existed
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.configs[id]
	delete(c.configs, id)
	return ok
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = make(map[string]*types.ServiceConfig)
}

// Get returns the entry for id
func (c *Cache) Get(id string) (*types.ServiceConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[id]
	return cfg, ok
}

// Len returns the number of cached services
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configs)
}

// Snapshot returns a stable copy of all entries ordered by service ID.
// Later mutations do not affect the returned slice.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.configs))
	for id, cfg := range c.configs {
		entries = append(entries, Entry{ServiceID: id, Config: cfg})
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ServiceID < entries[j].ServiceID
	})
	return entries
}
