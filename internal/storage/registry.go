// Package storage manages the named storage areas a Store consumer
// writes into: rotated directory trees and badger-backed KV caches.
// The registry is frozen after initialization and safe for concurrent
// reads.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/common"
)

var (
	ErrUnknownArea   = errors.New("unknown storage area")
	ErrNoPathDefined = errors.New("no path defined")
)

// Area is one named destination. Exactly one of Dir and Cache is set.
type Area struct {
	Name  string
	Dir   *DirectoryArea
	Cache *CacheArea
}

func (a *Area) String() string {
	switch {
	case a.Dir != nil:
		return fmt.Sprintf("%s: directory %s (rotation %s)", a.Name, a.Dir.Path, FormatRotation(a.Dir.Rotation))
	case a.Cache != nil:
		return fmt.Sprintf("%s: cache %s", a.Name, a.Cache.URL)
	default:
		return a.Name
	}
}

// Registry holds every configured area, frozen after NewRegistry.
type Registry struct {
	areas  map[string]*Area
	logger arbor.ILogger
}

// NewRegistry builds the registry from configuration. Directory areas
// get their paths created; relative paths are anchored at baseDir.
func NewRegistry(baseDir string, cfg map[string]common.AreaConfig, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{areas: make(map[string]*Area), logger: logger}

	for name, ac := range cfg {
		switch {
		case ac.URL != "":
			cache, err := OpenCache(ac.URL)
			if err != nil {
				return nil, fmt.Errorf("storage area %s: %w", name, err)
			}
			r.areas[name] = &Area{Name: name, Cache: cache}
		case ac.Path != "":
			path := ac.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			dir, err := NewDirectoryArea(path, ac.Rotation, logger)
			if err != nil {
				return nil, fmt.Errorf("storage area %s: %w", name, err)
			}
			r.areas[name] = &Area{Name: name, Dir: dir}
		default:
			return nil, fmt.Errorf("storage area %s: %w", name, ErrNoPathDefined)
		}
		logger.Debug().Str("area", name).Msg("Storage area registered")
	}
	return r, nil
}

// Get looks an area up by name.
func (r *Registry) Get(name string) (*Area, error) {
	a, ok := r.areas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArea, name)
	}
	return a, nil
}

// List returns every area, sorted by name.
func (r *Registry) List() []*Area {
	out := make([]*Area, 0, len(r.areas))
	for _, a := range r.areas {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases cache-area handles.
func (r *Registry) Close() error {
	var last error
	for _, a := range r.areas {
		if a.Cache != nil {
			if err := a.Cache.Close(); err != nil {
				last = err
			}
		}
	}
	return last
}
