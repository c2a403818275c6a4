package extension

import (
	"context"
	"log/slog"
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/singleflight"

	"StepScope/internal/observability/metrics"
	"StepScope/pkg/logger"
)

// Finder discovers every implementation of a capability.
type Finder interface {
	Find(ctx context.Context, capability Capability) ([]Component, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(ctx context.Context, capability Capability) ([]Component, error)

// Find implements Finder.
func (f FinderFunc) Find(ctx context.Context, capability Capability) ([]Component, error) {
	return f(ctx, capability)
}

// Registry memoizes discovery per capability. Each capability is scanned at
// most once per registry; concurrent first requests share that scan. Failed
// scans are not cached.
type Registry struct {
	finder  Finder
	cache   cmap.ConcurrentMap[string, []Component]
	scans   cmap.ConcurrentMap[string, int]
	flight  singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics counts scans in m.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry returns a registry backed by f.
func NewRegistry(f Finder, opts ...RegistryOption) *Registry {
	r := &Registry{
		finder: f,
		cache:  cmap.New[[]Component](),
		scans:  cmap.New[int](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("registry")
	}
	return r
}

// Get returns the components of capability in discovery order. The returned
// slice is the caller's own.
func (r *Registry) Get(ctx context.Context, capability Capability) ([]Component, error) {
	key := string(capability)
	if found, ok := r.cache.Get(key); ok {
		return slices.Clone(found), nil
	}

	v, err, shared := r.flight.Do(key, func() (any, error) {
		if found, ok := r.cache.Get(key); ok {
			return found, nil
		}
		r.scans.Upsert(key, 1, func(exist bool, old, n int) int {
			if exist {
				return old + n
			}
			return n
		})
		r.metrics.IncScans(key)

		found, err := r.finder.Find(ctx, capability)
		if err != nil {
			return nil, err
		}
		found = slices.Clone(found)
		r.cache.Set(key, found)
		r.logger.Debug("capability scanned", slog.String("capability", key), slog.Int("components", len(found)))
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("joined in-flight scan", slog.String("capability", key))
	}
	return slices.Clone(v.([]Component)), nil
}

// Scans returns how many scans ran for capability.
func (r *Registry) Scans(capability Capability) int {
	n, _ := r.scans.Get(string(capability))
	return n
}

// Cached reports whether capability has been discovered.
func (r *Registry) Cached(capability Capability) bool {
	return r.cache.Has(string(capability))
}
