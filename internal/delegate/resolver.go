package delegate

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"StepScope/internal/extension"
	"StepScope/internal/observability/metrics"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

// Bucket groups the entries of one plugin.
type Bucket string

const (
	BucketSteps    Bucket = "Steps"
	BucketAdvanced Bucket = "Advanced/Deprecated Steps"
)

// CoreOwner is the listing key of components no plugin owns.
const CoreOwner = "core"

// QuasiDescriptor is a listed component. Parent is nil for components found
// directly and points at the composite for components reached through it.
type QuasiDescriptor struct {
	Component extension.Component
	Parent    *extension.Component
}

// Listing maps an owner to its buckets.
type Listing map[string]map[Bucket][]QuasiDescriptor

// Owners returns the listing keys in order.
func (l Listing) Owners() []string {
	owners := make([]string, 0, len(l))
	for owner := range l {
		owners = append(owners, owner)
	}
	slices.Sort(owners)
	return owners
}

// Count returns the number of entries in l.
func Count(l Listing) int {
	n := 0
	for _, buckets := range l {
		for _, entries := range buckets {
			n += len(entries)
		}
	}
	return n
}

// Source resolves delegates and owners, typically an *extension.Strategy.
type Source interface {
	Resolve(ctx context.Context, from extension.Component, typeID string) (extension.Component, error)
	OwnerOf(c extension.Component) (*plugin.Plugin, error)
}

// Resolver flattens composite components into their delegates.
type Resolver struct {
	source  Source
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics counts unresolved delegates in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver returns a resolver over src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{source: src}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("delegate")
	}
	return r
}

// Composite returns the union parameter of c when c is a composite: a Meta
// component whose only parameter is required and accepts a union of types.
func Composite(c extension.Component) (extension.UnionType, bool) {
	meta, ok := c.Shape.(extension.Meta)
	if !ok || len(meta.Parameters) != 1 || !meta.Parameters[0].Required {
		return extension.UnionType{}, false
	}
	union, ok := meta.Parameters[0].Type.(extension.UnionType)
	return union, ok
}

// Expand returns the entries c contributes to a listing: c itself when it is
// not a composite, otherwise one entry per resolvable union member in
// declared order. Delegates are not expanded further.
func (r *Resolver) Expand(ctx context.Context, c extension.Component) ([]QuasiDescriptor, error) {
	union, ok := Composite(c)
	if !ok {
		if _, isMeta := c.Shape.(extension.Meta); isMeta {
			r.logger.Debug("meta component is not expanded",
				slog.String("component", c.Name), slog.String("type", c.Type),
				slog.String("reason", "needs exactly one required union parameter"))
		}
		return []QuasiDescriptor{{Component: c}}, nil
	}

	var out []QuasiDescriptor
	parent := c
	for _, member := range union.Members {
		delegate, err := r.source.Resolve(ctx, c, member)
		var unresolved *extension.UnresolvedDelegateError
		if errors.As(err, &unresolved) {
			r.metrics.IncUnresolved()
			r.logger.Warn("delegate cannot be resolved",
				slog.String("component", c.Name), slog.String("member", member), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, QuasiDescriptor{Component: delegate, Parent: &parent})
	}
	return out, nil
}

// Resolve expands components and groups them by owning plugin. Basic and
// advanced components are each sorted by name before expansion. A delegate
// is attributed to its own plugin and is listed as advanced when either it or
// its composite is advanced.
func (r *Resolver) Resolve(ctx context.Context, components []extension.Component) (Listing, error) {
	listing := make(Listing)
	for _, advanced := range []bool{false, true} {
		var group []extension.Component
		for _, c := range components {
			if c.Advanced == advanced {
				group = append(group, c)
			}
		}
		slices.SortStableFunc(group, func(a, b extension.Component) int {
			return strings.Compare(a.Name, b.Name)
		})

		for i, c := range group {
			if i > 0 && group[i-1].Name == c.Name {
				r.logger.Warn("duplicate component name", slog.String("name", c.Name),
					slog.String("type", c.Type), slog.String("other", group[i-1].Type))
			}
			entries, err := r.Expand(ctx, c)
			if err != nil {
				return nil, err
			}
			for _, qd := range entries {
				owner, err := r.ownerKey(qd.Component)
				if err != nil {
					return nil, err
				}
				bucket := BucketSteps
				if advanced || qd.Component.Advanced {
					bucket = BucketAdvanced
				}
				if listing[owner] == nil {
					listing[owner] = make(map[Bucket][]QuasiDescriptor)
				}
				listing[owner][bucket] = append(listing[owner][bucket], qd)
			}
		}
	}
	return listing, nil
}

func (r *Resolver) ownerKey(c extension.Component) (string, error) {
	owner, err := r.source.OwnerOf(c)
	if err == nil {
		return owner.Name, nil
	}
	var unattributed *extension.UnattributedComponentError
	if errors.As(err, &unattributed) {
		return CoreOwner, nil
	}
	return "", err
}
