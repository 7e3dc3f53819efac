package settings

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// FileCache is a Cache backed by a yaml file.  The whole file is rewritten
// on every Set; axis settings change at human rates (plus one position write
// per settlement), so the simple approach holds up fine.
type FileCache struct {
	MapCache

	path string
	wmu  sync.Mutex
}

// NewFileCache loads (or creates) a yaml settings file at path
func NewFileCache(path string) (*FileCache, error) {
	fc := &FileCache{path: path}
	fc.m = make(map[string]map[string]interface{})
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(buf, &fc.m); err != nil {
		return nil, err
	}
	return fc, nil
}

// Set stores the value and rewrites the backing file
func (c *FileCache) Set(axis, name string, value interface{}) {
	c.MapCache.Set(axis, name, value)
	c.flush()
}

// flush serializes the cache to the backing file.  Write errors are dropped;
// the in-memory state is authoritative for the running process and the
// engine must not fail a move because the disk is unhappy.
func (c *FileCache) flush() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	buf, err := yaml.Marshal(c.snapshot())
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return
	}
	os.Rename(tmp, c.path)
}
