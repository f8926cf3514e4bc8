// Package auth implements the authorization service: scope module
// registration, user effective-scope resolution, and offer/claim
// policy evaluation.
package auth

import (
	"fmt"

	"github.com/flowforge/flowforge/engine/model"
)

// ScopeModule is a named collection of scopes belonging to one domain
// (or the reserved "system" module).
type ScopeModule struct {
	Name   string
	Scopes []model.Scope
}

// ScopeRegistry is the union of every registered ScopeModule, built
// once at startup and passed by value into AuthorizationService and
// engine/definition.Builder.WithKnownScopes — no process-wide
// singleton, by design: every collaborator takes an explicit value.
type ScopeRegistry struct {
	modules map[string]ScopeModule
}

// NewScopeRegistry builds a registry from modules, rejecting duplicate
// module names or duplicate scope names across modules.
func NewScopeRegistry(modules ...ScopeModule) (*ScopeRegistry, error) {
	r := &ScopeRegistry{modules: make(map[string]ScopeModule, len(modules))}
	seen := make(map[model.ScopeName]struct{})
	for _, m := range modules {
		if _, exists := r.modules[m.Name]; exists {
			return nil, fmt.Errorf("auth: duplicate scope module %q", m.Name)
		}
		for _, s := range m.Scopes {
			if _, exists := seen[s.Name]; exists {
				return nil, fmt.Errorf("auth: duplicate scope %q", s.Name)
			}
			seen[s.Name] = struct{}{}
		}
		r.modules[m.Name] = m
	}
	return r, nil
}

// All returns every declared ScopeName across every module.
func (r *ScopeRegistry) All() []model.ScopeName {
	var out []model.ScopeName
	for _, m := range r.modules {
		for _, s := range m.Scopes {
			out = append(out, s.Name)
		}
	}
	return out
}

// Has reports whether scope is declared in some registered module.
func (r *ScopeRegistry) Has(scope model.ScopeName) bool {
	m, ok := r.modules[scope.Module()]
	if !ok {
		return false
	}
	for _, s := range m.Scopes {
		if s.Name == scope {
			return true
		}
	}
	return false
}

// StaffVisibilityScope returns the "{domain}:staff" scope that gates
// whether a work item is even revealed to a caller.
func StaffVisibilityScope(module string) model.ScopeName {
	return model.ScopeName(module + ":staff")
}
