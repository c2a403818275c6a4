package plugin

import (
	"slices"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
)

// Plugin is one loaded plugin archive. Everything except the state is fixed
// once the catalog is loaded.
type Plugin struct {
	Name           string
	Version        *semver.Version
	DisplayName    string
	MinHostVersion *semver.Version
	Dependencies   []Dependency
	Archive        string

	// requires holds the dependencies present in the catalog, in declaration
	// order. Absent optional dependencies are dropped.
	requires []string
	scope    *Scope
	state    atomic.Value
}

func newPlugin(m *Manifest, archive string, host *Scope) *Plugin {
	p := &Plugin{
		Name:         m.Name,
		Version:      semver.MustParse(m.Version),
		DisplayName:  m.DisplayName,
		Dependencies: slices.Clone(m.Dependencies),
		Archive:      archive,
		scope:        newScope(m.Name, m.Extensions, host),
	}
	if p.DisplayName == "" {
		p.DisplayName = m.Name
	}
	if m.MinHostVersion != "" {
		p.MinHostVersion = semver.MustParse(m.MinHostVersion)
	}
	p.state.Store(StateRegistered)
	return p
}

// Scope returns the plugin's isolated type space.
func (p *Plugin) Scope() *Scope { return p.scope }

// Requires returns the names of dependencies present in the catalog.
func (p *Plugin) Requires() []string { return slices.Clone(p.requires) }

// State returns the current lifecycle state.
func (p *Plugin) State() State { return p.state.Load().(State) }

// Transition moves the plugin from one state to another. It reports false
// when the plugin is not in state from.
func (p *Plugin) Transition(from, to State) bool {
	return p.state.CompareAndSwap(from, to)
}

// Fail marks the plugin failed regardless of its current state.
func (p *Plugin) Fail() { p.state.Store(StateFailed) }

func (p *Plugin) String() string {
	return p.Name + "@" + p.Version.Original()
}
