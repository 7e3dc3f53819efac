package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache()
	if _, ok := c.Get("th", "position"); ok {
		t.Error("empty cache returned a value")
	}
	c.Set("th", "position", 1.5)
	c.Set("th", "offset", 2)
	c.Set("tth", "position", -3.0)
	if v, ok := Float(c, "th", "position"); !ok || v != 1.5 {
		t.Errorf("Float = %v, %v", v, ok)
	}
	if v, ok := Float(c, "th", "offset"); !ok || v != 2 {
		t.Errorf("int coercion = %v, %v", v, ok)
	}
	if v, ok := Float(c, "tth", "position"); !ok || v != -3 {
		t.Errorf("Float = %v, %v", v, ok)
	}
	c.Set("th", "digest", "abc123")
	if s, ok := String(c, "th", "digest"); !ok || s != "abc123" {
		t.Errorf("String = %v, %v", s, ok)
	}
	if _, ok := Float(c, "th", "digest"); ok {
		t.Error("string coerced to float")
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	c, err := NewFileCache(path)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	c.Set("th", "position", 12.25)
	c.Set("th", "trajectory_digest", "deadbeef")
	c.Set("tth", "offset", -1.0)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file not written: %v", err)
	}

	// a fresh cache sees the persisted values
	c2, err := NewFileCache(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v, ok := Float(c2, "th", "position"); !ok || v != 12.25 {
		t.Errorf("position after reload = %v, %v", v, ok)
	}
	if s, ok := String(c2, "th", "trajectory_digest"); !ok || s != "deadbeef" {
		t.Errorf("digest after reload = %v, %v", s, ok)
	}
	if v, ok := Float(c2, "tth", "offset"); !ok || v != -1 {
		t.Errorf("offset after reload = %v, %v", v, ok)
	}
}

func TestFileCacheMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	c, err := NewFileCache(path)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	if _, ok := c.Get("th", "position"); ok {
		t.Error("missing file should yield an empty cache")
	}
}
