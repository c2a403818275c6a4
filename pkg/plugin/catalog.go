package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	xerrors "StepScope/internal/errors"
	"StepScope/pkg/logger"
)

// Catalog is the set of plugins loaded from one archive directory.
type Catalog struct {
	dir      string
	plugins  []*Plugin
	byName   map[string]*Plugin
	byScope  map[*Scope]*Plugin
	host     *Scope
	failures []*CatalogError
	logger   *slog.Logger
}

type options struct {
	strict       bool
	hostVersion  string
	hostManifest string
	loader       Loader
	logger       *slog.Logger
}

// Option modifies how a catalog is loaded.
type Option func(*options)

// WithStrict controls whether any archive failure aborts the load. Strict
// loading is the default.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithHostVersion sets the host version checked against each plugin's
// minHostVersion. An empty version disables the check.
func WithHostVersion(version string) Option {
	return func(o *options) { o.hostVersion = version }
}

// WithHostManifest names a YAML file listing the host's built-in extensions.
func WithHostManifest(path string) Option {
	return func(o *options) { o.hostManifest = path }
}

// WithLoader overrides the archive reader.
func WithLoader(loader Loader) Option {
	return func(o *options) {
		if loader != nil {
			o.loader = loader
		}
	}
}

// WithLogger sets the catalog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Load reads every plugin archive in dir.
func Load(ctx context.Context, dir string, opts ...Option) (*Catalog, error) {
	o := options{strict: true, loader: ArchiveLoader{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("catalog")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, newCatalogError(dir, "", "plugin directory unavailable", err)
	}
	if !info.IsDir() {
		return nil, newCatalogError(dir, "", "plugin path is not a directory", nil)
	}

	var hostVersion *semver.Version
	if o.hostVersion != "" {
		if hostVersion, err = semver.NewVersion(o.hostVersion); err != nil {
			return nil, newCatalogError("", "", fmt.Sprintf("invalid host version %q", o.hostVersion), err)
		}
	}

	var builtins []ExtensionDecl
	if o.hostManifest != "" {
		raw, err := os.ReadFile(o.hostManifest)
		if err != nil {
			return nil, newCatalogError(o.hostManifest, "", "host manifest unavailable", err)
		}
		if builtins, err = parseHostManifest(raw); err != nil {
			return nil, newCatalogError(o.hostManifest, "", "invalid host manifest", err)
		}
	}

	c := &Catalog{
		dir:     dir,
		byName:  make(map[string]*Plugin),
		byScope: make(map[*Scope]*Plugin),
		host:    newScope("", builtins, nil),
		logger:  o.logger,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newCatalogError(dir, "", "plugin directory unreadable", err)
	}

	var loaded []*Plugin
	rejected := make(map[string]struct{})
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		p, cerr := c.loadArchive(o, path, hostVersion)
		switch {
		case cerr != nil:
			c.failures = append(c.failures, cerr)
			if cerr.Plugin != "" {
				rejected[cerr.Plugin] = struct{}{}
			}
		case p != nil:
			loaded = append(loaded, p)
			c.byName[p.Name] = p
		}
	}

	c.resolveDependencies(loaded, rejected)

	slices.SortStableFunc(c.failures, func(a, b *CatalogError) int {
		return strings.Compare(a.Archive, b.Archive)
	})
	if o.strict && len(c.failures) > 0 {
		return nil, c.failures[0]
	}
	for _, f := range c.failures {
		c.logger.Warn("plugin excluded", slog.String("archive", f.Archive), slog.String("error", f.Error()))
	}

	for _, p := range loaded {
		if p.State() == StateFailed {
			continue
		}
		c.plugins = append(c.plugins, p)
		c.byScope[p.scope] = p
	}
	slices.SortFunc(c.plugins, func(a, b *Plugin) int { return strings.Compare(a.Name, b.Name) })
	c.logger.Debug("catalog loaded", slog.String("dir", dir), slog.Int("plugins", len(c.plugins)), slog.Int("failures", len(c.failures)))
	return c, nil
}

func (c *Catalog) loadArchive(o options, path string, hostVersion *semver.Version) (*Plugin, *CatalogError) {
	raw, err := o.loader.Load(path)
	if errors.Is(err, ErrNoManifest) {
		c.logger.Debug("ignoring non-archive entry", slog.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, newCatalogError(path, "", "unreadable archive", err)
	}

	m, err := ParseManifest(raw)
	if err != nil {
		name := ""
		if m != nil {
			name = m.Name
		}
		return nil, newCatalogError(path, name, "invalid manifest", err)
	}
	if other, dup := c.byName[m.Name]; dup {
		return nil, newCatalogError(path, m.Name, "duplicate plugin name, already loaded from "+other.Archive, nil)
	}

	p := newPlugin(m, path, c.host)
	if hostVersion != nil && p.MinHostVersion != nil && p.MinHostVersion.GreaterThan(hostVersion) {
		return nil, newCatalogError(path, m.Name,
			fmt.Sprintf("requires host %s, running %s", p.MinHostVersion.Original(), hostVersion.Original()), nil)
	}
	return p, nil
}

// resolveDependencies fails plugins whose mandatory dependencies are missing
// or failed, until no more plugins fail, then records present dependencies.
func (c *Catalog) resolveDependencies(loaded []*Plugin, rejected map[string]struct{}) {
	healthy := func(name string) bool {
		p, ok := c.byName[name]
		return ok && p.State() != StateFailed
	}
	for changed := true; changed; {
		changed = false
		for _, p := range loaded {
			if p.State() == StateFailed {
				continue
			}
			for _, dep := range p.Dependencies {
				if dep.Optional || healthy(dep.Name) {
					continue
				}
				reason := "missing dependency " + dep.Name
				_, wasRejected := rejected[dep.Name]
				if _, ok := c.byName[dep.Name]; ok || wasRejected {
					reason = "dependency " + dep.Name + " failed to load"
				}
				p.Fail()
				c.failures = append(c.failures, newCatalogError(p.Archive, p.Name, reason, nil))
				changed = true
				break
			}
		}
	}
	for _, p := range loaded {
		if p.State() == StateFailed {
			continue
		}
		for _, dep := range p.Dependencies {
			if healthy(dep.Name) {
				p.requires = append(p.requires, dep.Name)
			}
		}
	}
}

// Dir returns the archive directory.
func (c *Catalog) Dir() string { return c.dir }

// Plugins returns the loaded plugins sorted by name.
func (c *Catalog) Plugins() []*Plugin { return slices.Clone(c.plugins) }

// Plugin returns the loaded plugin with the given name.
func (c *Catalog) Plugin(name string) (*Plugin, bool) {
	p, ok := c.byName[name]
	if !ok || p.State() == StateFailed {
		return nil, false
	}
	return p, true
}

// OwnerOfScope returns the plugin owning s. The host scope has no owner.
func (c *Catalog) OwnerOfScope(s *Scope) (*Plugin, bool) {
	p, ok := c.byScope[s]
	return p, ok
}

// HostScope returns the scope holding the host's built-in extensions.
func (c *Catalog) HostScope() *Scope { return c.host }

// Failures returns the archives excluded by a non-strict load.
func (c *Catalog) Failures() []*CatalogError { return slices.Clone(c.failures) }

// Link connects a plugin's scope to the scopes of its present dependencies.
func (c *Catalog) Link(name string) error {
	p, ok := c.Plugin(name)
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "plugin "+name+" is not loaded")
	}
	parents := make([]*Scope, 0, len(p.requires))
	for _, dep := range p.requires {
		if d, ok := c.Plugin(dep); ok {
			parents = append(parents, d.scope)
		}
	}
	p.scope.link(parents)
	return nil
}
