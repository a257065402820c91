// Package cache mirrors the remote events collection and derives the per-role views
// rendered from it.
package cache

import (
	"sync"

	"eventhub/internal/models"
)

// Cache is a disposable copy of the provider's events. Every snapshot replaces it
// wholesale; it never merges.
type Cache struct {
	mu         sync.RWMutex
	events     []models.Event
	byID       map[string]int
	generation uint64
}

// New returns an empty cache at generation zero.
func New() *Cache {
	return &Cache{byID: make(map[string]int)}
}

// Replace installs events as the new content and returns the new generation.
func (c *Cache) Replace(events []models.Event) uint64 {
	own := make([]models.Event, len(events))
	copy(own, events)
	index := make(map[string]int, len(own))
	for i, ev := range own {
		index[ev.ID] = i
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = own
	c.byID = index
	c.generation++
	return c.generation
}

// Snapshot returns the current events and their generation. The slice must not be
// modified.
func (c *Cache) Snapshot() ([]models.Event, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events, c.generation
}

// Event looks up a cached event by id.
func (c *Cache) Event(id string) (models.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return models.Event{}, false
	}
	return c.events[i], true
}

// Len is the number of cached events.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}
