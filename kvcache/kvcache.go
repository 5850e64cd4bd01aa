// Package kvcache implements the persistent key-value cache spec.md §6
// describes for Docker CPU deltas and similar: a JSON file of
// { key: [epoch_seconds, value] } with a configured expire age.
//
// Grounded on original_source/tensor/sources/docker.py, which keeps a
// small on-disk cache of previous counter samples between agent restarts.
package kvcache

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// entry is the on-wire [epoch_seconds, value] pair.
type entry struct {
	Time  float64
	Value float64
}

func (e entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{e.Time, e.Value})
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	e.Time, e.Value = pair[0], pair[1]
	return nil
}

// Cache is a small JSON-file-backed key-value store with age-based
// expiry, loaded fully into memory and rewritten on Save.
type Cache struct {
	mu       sync.Mutex
	path     string
	expireAt time.Duration
	entries  map[string]entry
}

// Open loads path if it exists (a missing file is not an error — the
// cache starts empty) and returns a Cache that expires entries older than
// expireAfter.
func Open(path string, expireAfter time.Duration) (*Cache, error) {
	c := &Cache{path: path, expireAt: expireAfter, entries: make(map[string]entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns (value, true) if key is present and not expired relative to
// now.
func (c *Cache) Get(key string, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if c.expireAt > 0 && now.Sub(time.Unix(int64(e.Time), 0)) > c.expireAt {
		return 0, false
	}
	return e.Value, true
}

// Set stores value for key at time now.
func (c *Cache) Set(key string, value float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{Time: float64(now.Unix()), Value: value}
}

// Save rewrites the backing JSON file with the current in-memory state.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.entries)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}
