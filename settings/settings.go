// Package settings provides the mutable per-axis setpoint cache consumed by
// the motion engine.  The engine reads and writes through the Cache
// interface; persistence and lifecycle belong to whoever constructed the
// cache.  Two implementations are provided: a plain in-memory map and a
// yaml file backed store that persists on every write.
package settings

import (
	"sync"
)

// Cache stores named values per axis.  Implementations must be safe for
// concurrent use; the engine writes from settlement polling goroutines while
// readers query positions.
type Cache interface {
	// Get returns the value stored for (axis, name), and whether it exists
	Get(axis, name string) (interface{}, bool)

	// Set stores a value for (axis, name)
	Set(axis, name string, value interface{})
}

// Float reads a value from c and coerces it to float64.  ok is false if the
// value is absent or not numeric.
func Float(c Cache, axis, name string) (float64, bool) {
	v, ok := c.Get(axis, name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

// String reads a value from c and coerces it to string
func String(c Cache, axis, name string) (string, bool) {
	v, ok := c.Get(axis, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MapCache is the in-memory Cache used when no persistence is wanted, e.g.
// in tests or with mock controllers
type MapCache struct {
	mu sync.RWMutex
	m  map[string]map[string]interface{}
}

// NewMapCache returns an empty in-memory cache
func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string]map[string]interface{})}
}

// Get implements Cache
func (c *MapCache) Get(axis, name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byName, ok := c.m[axis]
	if !ok {
		return nil, false
	}
	v, ok := byName[name]
	return v, ok
}

// Set implements Cache
func (c *MapCache) Set(axis, name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.m[axis]
	if !ok {
		byName = make(map[string]interface{})
		c.m[axis] = byName
	}
	byName[name] = value
}

// snapshot copies the map for serialization without holding the lock during
// file I/O
func (c *MapCache) snapshot() map[string]map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(c.m))
	for axis, byName := range c.m {
		inner := make(map[string]interface{}, len(byName))
		for k, v := range byName {
			inner[k] = v
		}
		out[axis] = inner
	}
	return out
}
