// Package sources holds the per-provider adapters. Each site from the
// configuration binds to one adapter implementing Fetcher (one-shot
// acquisition) or Streamer (long-running acquisition with reconnect
// semantics), or both.
package sources

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/tokens"
)

// Source is what every adapter exposes.
type Source interface {
	Name() string
	Site() *models.Site
	Format() formats.Format
}

// Fetcher is one-shot acquisition: authenticate, then drain records
// into the channel and return. Credentials are refreshed once per call
// on expiry.
type Fetcher interface {
	Source
	Authenticate(ctx context.Context) (string, error)
	Fetch(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error
}

// Streamer is long-running acquisition: runs until the duration
// expires or the context is cancelled, surviving transport errors by
// reconnecting.
type Streamer interface {
	Source
	Authenticate(ctx context.Context) (string, error)
	Stream(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error
}

// Registry binds site descriptors to adapters. After NewRegistry only
// Register changes it; the map carries no lock.
type Registry struct {
	sources map[string]Source
	logger  arbor.ILogger
}

// NewRegistry builds one adapter per configured site, keyed by the
// site's format tag. A site whose format has no adapter is a
// configuration error: the engine refuses to initialize it.
func NewRegistry(cfg *common.Config, store *tokens.Store, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source), logger: logger}

	for name, site := range cfg.Sources {
		var src Source
		switch formats.Format(site.Format) {
		case formats.Asd:
			src = NewAsd(site, store, logger)
		case formats.Aeroscope:
			src = NewAeroscope(site, store, logger)
		case formats.Opensky:
			src = NewOpensky(site, logger)
		case formats.Senhive:
			src = NewSenhive(site, logger)
		case formats.CubeData:
			src = NewAvionix(site, logger)
		default:
			return nil, fmt.Errorf("source %s: no adapter for format %s", name, site.Format)
		}
		r.sources[name] = src
		logger.Debug().Str("source", name).Str("format", site.Format).Msg("Source registered")
	}
	return r, nil
}

// Get returns the adapter for a site name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return s, nil
}

// FetcherFor returns the site's Fetcher, checking both the declared
// capability and the adapter contract.
func (r *Registry) FetcherFor(name string) (Fetcher, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	f, ok := s.(Fetcher)
	if !ok || !(s.Site().HasCapability(models.CanFetch) || s.Site().HasCapability(models.CanRead)) {
		return nil, fmt.Errorf("%w: %s cannot fetch", ErrCapabilityMismatch, name)
	}
	return f, nil
}

// StreamerFor returns the site's Streamer.
func (r *Registry) StreamerFor(name string) (Streamer, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	st, ok := s.(Streamer)
	if !ok || !s.Site().HasCapability(models.CanStream) {
		return nil, fmt.Errorf("%w: %s cannot stream", ErrCapabilityMismatch, name)
	}
	return st, nil
}

// Register installs an adapter directly, used by tests and by callers
// embedding their own sources.
func (r *Registry) Register(src Source) {
	r.sources[src.Name()] = src
}

// List returns every site descriptor, sorted by name.
func (r *Registry) List() []*models.Site {
	out := make([]*models.Site, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Site())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
