package extension

import (
	"context"
	"log/slog"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	xerrors "StepScope/internal/errors"
	"StepScope/internal/observability/metrics"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

// Strategy discovers components across the started plugins of a catalog and
// the host's built-ins, and attributes each component to its plugin.
type Strategy struct {
	catalog  *plugin.Catalog
	registry *Registry
	owners   cmap.ConcurrentMap[string, *plugin.Plugin]
	sealed   atomic.Bool
	logger   *slog.Logger
}

type strategyOptions struct {
	finder  Finder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// StrategyOption configures a Strategy.
type StrategyOption func(*strategyOptions)

// WithFinder replaces the catalog scan behind FindComponents.
func WithFinder(f Finder) StrategyOption {
	return func(o *strategyOptions) { o.finder = f }
}

// WithMetrics sets the collectors used by the registry.
func WithMetrics(m *metrics.Metrics) StrategyOption {
	return func(o *strategyOptions) { o.metrics = m }
}

// WithLogger sets the strategy and registry logger.
func WithLogger(l *slog.Logger) StrategyOption {
	return func(o *strategyOptions) { o.logger = l }
}

// NewStrategy returns an unsealed strategy over c.
func NewStrategy(c *plugin.Catalog, opts ...StrategyOption) *Strategy {
	var o strategyOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("extension")
	}
	s := &Strategy{
		catalog: c,
		owners:  cmap.New[*plugin.Plugin](),
		logger:  o.logger,
	}
	finder := o.finder
	if finder == nil {
		finder = s
	}
	s.registry = NewRegistry(finder, WithRegistryMetrics(o.metrics), WithRegistryLogger(o.logger))
	return s
}

// Seal allows discovery. It is called once every plugin has started.
func (s *Strategy) Seal() { s.sealed.Store(true) }

// Sealed reports whether discovery is allowed.
func (s *Strategy) Sealed() bool { return s.sealed.Load() }

// Registry returns the memoizing registry in front of the strategy.
func (s *Strategy) Registry() *Registry { return s.registry }

// FindComponents returns every component of capability: host built-ins
// first, then plugins by name, each in declaration order.
func (s *Strategy) FindComponents(ctx context.Context, capability Capability) ([]Component, error) {
	return s.registry.Get(ctx, capability)
}

// Find implements Finder by scanning the catalog.
func (s *Strategy) Find(ctx context.Context, capability Capability) ([]Component, error) {
	if !s.Sealed() {
		return nil, xerrors.New(xerrors.CodeNotReady, "extensions requested before plugins started",
			xerrors.WithMetadata("capability", string(capability)))
	}

	var found []Component
	host := s.catalog.HostScope()
	for _, d := range host.Declarations(string(capability)) {
		found = append(found, newComponent(host, d))
	}
	for _, p := range s.catalog.Plugins() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.State() != plugin.StateStarted {
			s.logger.Debug("skipping plugin that has not started",
				slog.String("plugin", p.Name), slog.String("state", string(p.State())))
			continue
		}
		for _, d := range p.Scope().Declarations(string(capability)) {
			c := newComponent(p.Scope(), d)
			s.owners.Set(c.Key(), p)
			found = append(found, c)
		}
	}
	return found, nil
}

// OwnerOf returns the plugin that declared c.
func (s *Strategy) OwnerOf(c Component) (*plugin.Plugin, error) {
	if p, ok := s.owners.Get(c.Key()); ok {
		return p, nil
	}
	return nil, newUnattributedComponentError(c)
}

// Resolve finds the component typeID refers to as seen from the scope of
// from, and returns it as discovered for its own capability.
func (s *Strategy) Resolve(ctx context.Context, from Component, typeID string) (Component, error) {
	if from.Origin == nil {
		return Component{}, newUnresolvedDelegateError(from, typeID, "component has no scope")
	}
	scope, decl, ok := from.Origin.Lookup(typeID)
	if !ok {
		return Component{}, newUnresolvedDelegateError(from, typeID, "type not visible from "+from.Origin.String())
	}

	candidates, err := s.FindComponents(ctx, Capability(decl.Capability))
	if err != nil {
		return Component{}, err
	}
	for _, c := range candidates {
		if c.Origin == scope && c.Type == typeID {
			return c, nil
		}
	}
	return Component{}, newUnresolvedDelegateError(from, typeID, "declaring "+scope.String()+" is not started")
}
