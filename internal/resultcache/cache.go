// Package resultcache is a process-local TTL cache in front of the result
// store. Entries hold a serialized copy of the structured result, so readers
// can never alias or mutate cached state.
package resultcache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/edgelab/appaudit/models"
)

type entry struct {
	blob     []byte
	storedAt time.Time
}

// Cache maps task IDs to serialized structured results with a fixed TTL.
// All methods are safe for concurrent use; concurrent writers for the same
// task resolve last-writer-wins.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns a fresh copy of the cached result, or (nil, false) when the
// task is absent or its entry has outlived the TTL. Expired entries are
// dropped on access.
func (c *Cache) Get(taskID string) (*models.StructuredResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[taskID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a writer may have refreshed it.
		if cur, still := c.entries[taskID]; still && time.Since(cur.storedAt) > c.ttl {
			delete(c.entries, taskID)
		}
		c.mu.Unlock()
		return nil, false
	}
	var res models.StructuredResult
	if err := json.Unmarshal(e.blob, &res); err != nil {
		slog.Warn("dropping undecodable cache entry", "task_id", taskID, "error", err)
		c.Invalidate(taskID)
		return nil, false
	}
	return &res, true
}

// Set stores a serialized copy of the result under its task ID, resetting
// the entry's age. Unserializable results are skipped rather than cached.
func (c *Cache) Set(taskID string, res *models.StructuredResult) {
	if taskID == "" || res == nil {
		return
	}
	blob, err := json.Marshal(res)
	if err != nil {
		slog.Warn("not caching unserializable result", "task_id", taskID, "error", err)
		return
	}
	c.mu.Lock()
	c.entries[taskID] = entry{blob: blob, storedAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops the entry for a task and reports whether one existed.
func (c *Cache) Invalidate(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[taskID]
	delete(c.entries, taskID)
	return ok
}

// Sweep removes every entry older than maxAge and returns how many were
// dropped. The scheduler runs this periodically so entries that are never
// read again do not accumulate.
func (c *Cache) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
