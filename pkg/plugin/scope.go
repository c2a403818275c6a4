package plugin

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Scope is the isolated type space of one plugin. Two scopes may declare the
// same type id without interfering. The host scope belongs to no plugin.
type Scope struct {
	id    string
	owner string
	decls []ExtensionDecl
	index map[string]int

	mu      sync.RWMutex
	parents []*Scope
	host    *Scope
}

func newScope(owner string, decls []ExtensionDecl, host *Scope) *Scope {
	s := &Scope{
		id:    uuid.NewString(),
		owner: owner,
		decls: slices.Clone(decls),
		index: make(map[string]int, len(decls)),
		host:  host,
	}
	for i, d := range s.decls {
		s.index[d.Type] = i
	}
	return s
}

// ID uniquely identifies the scope within a process.
func (s *Scope) ID() string { return s.id }

// Owner returns the owning plugin name, empty for the host scope.
func (s *Scope) Owner() string { return s.owner }

// IsHost reports whether s is the host scope.
func (s *Scope) IsHost() bool { return s.owner == "" }

func (s *Scope) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.IsHost() {
		return "host"
	}
	return "plugin:" + s.owner
}

// Declarations returns the scope's own declarations of capability, in
// declaration order.
func (s *Scope) Declarations(capability string) []ExtensionDecl {
	var out []ExtensionDecl
	for _, d := range s.decls {
		if d.Capability == capability {
			out = append(out, d)
		}
	}
	return out
}

// Declared returns the scope's own declaration of typeID.
func (s *Scope) Declared(typeID string) (ExtensionDecl, bool) {
	i, ok := s.index[typeID]
	if !ok {
		return ExtensionDecl{}, false
	}
	return s.decls[i], true
}

// Parents returns the linked dependency scopes in declaration order.
func (s *Scope) Parents() []*Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.parents)
}

func (s *Scope) link(parents []*Scope) {
	s.mu.Lock()
	s.parents = parents
	s.mu.Unlock()
}

// Lookup resolves typeID as code loaded in s would see it: own declarations
// first, then dependency scopes depth-first in declaration order, then the
// host scope. It returns the defining scope.
func (s *Scope) Lookup(typeID string) (*Scope, ExtensionDecl, bool) {
	visited := make(map[*Scope]struct{})
	if owner, decl, ok := s.lookupChain(typeID, visited); ok {
		return owner, decl, true
	}
	if s.host != nil && s.host != s {
		if decl, ok := s.host.Declared(typeID); ok {
			return s.host, decl, true
		}
	}
	return nil, ExtensionDecl{}, false
}

func (s *Scope) lookupChain(typeID string, visited map[*Scope]struct{}) (*Scope, ExtensionDecl, bool) {
	if _, seen := visited[s]; seen {
		return nil, ExtensionDecl{}, false
	}
	visited[s] = struct{}{}
	if decl, ok := s.Declared(typeID); ok {
		return s, decl, true
	}
	for _, parent := range s.Parents() {
		if owner, decl, ok := parent.lookupChain(typeID, visited); ok {
			return owner, decl, true
		}
	}
	return nil, ExtensionDecl{}, false
}
