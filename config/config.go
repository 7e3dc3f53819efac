// Package config provides read-only typed access to the static configuration
// of axes and controllers.  Values come from the yaml config file loaded at
// startup; the engine never writes back to them.
package config

import (
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
)

// MissingError is returned by the Must accessors when a required key is
// absent.  It is fatal at setup time and never recovered from.
type MissingError struct {
	Key string
}

func (e MissingError) Error() string {
	return fmt.Sprintf("config: required key %q is missing", e.Key)
}

// Static is an immutable key/value configuration.  The zero value is not
// usable; construct with New or FromFile.
type Static struct {
	k *koanf.Koanf
}

// New builds a Static from an in-memory map.  Nested maps are addressed with
// dotted keys, e.g. "limits.low".
func New(values map[string]interface{}) *Static {
	k := koanf.New(".")
	// the confmap provider cannot fail
	k.Load(confmap.Provider(values, "."), nil)
	return &Static{k: k}
}

// FromFile builds a Static from a yaml file
func FromFile(path string) (*Static, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	return &Static{k: k}, nil
}

// Has returns true if the key is present
func (s *Static) Has(key string) bool {
	return s.k.Exists(key)
}

// Float returns the value at key, or def if absent
func (s *Static) Float(key string, def float64) float64 {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.Float64(key)
}

// Int returns the value at key, or def if absent
func (s *Static) Int(key string, def int) int {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.Int(key)
}

// String returns the value at key, or def if absent
func (s *Static) String(key string, def string) string {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.String(key)
}

// Bool returns the value at key, or def if absent
func (s *Static) Bool(key string, def bool) bool {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.Bool(key)
}

// MustFloat returns the value at key, or a MissingError if absent
func (s *Static) MustFloat(key string) (float64, error) {
	if !s.k.Exists(key) {
		return 0, MissingError{Key: key}
	}
	return s.k.Float64(key), nil
}

// MustString returns the value at key, or a MissingError if absent
func (s *Static) MustString(key string) (string, error) {
	if !s.k.Exists(key) {
		return "", MissingError{Key: key}
	}
	return s.k.String(key), nil
}
