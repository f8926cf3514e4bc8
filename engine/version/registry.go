// Package version implements the version manager: a registry of built
// WorkflowDefinitions keyed by (name, version), and
// a Manager that binds each registered definition to a runtime.Engine
// behind a thin Facade exposing the engine's public operations.
package version

import (
	"fmt"
	"sync"

	"github.com/flowforge/flowforge/engine/model"
)

// Registry holds built WorkflowDefinitions keyed by "name@version". It
// also implements definition.CompositeLookup, so a Builder under
// construction can validate a composite task's subDefinition reference
// against every definition already registered.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*model.WorkflowDefinition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*model.WorkflowDefinition)}
}

func key(name, version string) string {
	return name + "@" + version
}

// Register adds def, keyed by its own (Name, Version). Registering the
// same (name, version) twice is an error: definitions are immutable
// once built, and a silent overwrite would let an in-flight workflow
// instance's definition change out from under it.
func (r *Registry) Register(def *model.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(def.Name, def.Version)
	if _, exists := r.defs[k]; exists {
		return fmt.Errorf("version: %s is already registered", k)
	}
	r.defs[k] = def
	return nil
}

// Get returns the definition registered for (name, version).
func (r *Registry) Get(name, version string) (*model.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key(name, version)]
	return def, ok
}

// Has reports whether "name@version" is registered, satisfying
// definition.CompositeLookup.
func (r *Registry) Has(nameAtVersion string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[nameAtVersion]
	return ok
}
