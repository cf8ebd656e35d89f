package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDefaults reads a YAML platform-defaults file at path and overlays it
// on the built-in [Defaults]. A missing file is not an error: deployments
// that are happy with the built-ins need no file at all.
func LoadDefaults(path string) (Resolved, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	o, err := DecodeOverrides(f)
	if err != nil {
		return Resolved{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return Merge(Defaults(), o), nil
}

// DecodeOverrides decodes a YAML override document from r. Unknown keys are
// rejected so typos surface at load time rather than as silently ignored
// configuration.
func DecodeOverrides(r io.Reader) (*Overrides, error) {
	o := &Overrides{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		if errors.Is(err, io.EOF) {
			return &Overrides{}, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return o, nil
}

// Source supplies per-tenant override documents. Implementations are owned
// by the admin layer; the core only reads.
type Source interface {
	// Overrides returns the override document for tenantID, or nil when the
	// tenant has no overrides.
	Overrides(tenantID string) (*Overrides, error)
}

// MemSource is an in-process Source, used in tests and by the replay CLI.
type MemSource struct {
	ByTenant map[string]*Overrides
}

// Overrides implements [Source].
func (s *MemSource) Overrides(tenantID string) (*Overrides, error) {
	if s == nil || s.ByTenant == nil {
		return nil, nil
	}
	return s.ByTenant[tenantID], nil
}

// DirSource reads tenant overrides from <dir>/<tenantID>.yaml. A missing
// file means the tenant runs on platform defaults.
type DirSource struct {
	Dir string
}

// Overrides implements [Source].
func (s *DirSource) Overrides(tenantID string) (*Overrides, error) {
	path := filepath.Join(s.Dir, tenantID+".yaml")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open tenant overrides %q: %w", path, err)
	}
	defer f.Close()
	return DecodeOverrides(f)
}
