package version

import (
	"fmt"
	"sync"

	"github.com/flowforge/flowforge/engine/audit"
	"github.com/flowforge/flowforge/engine/auth"
	"github.com/flowforge/flowforge/engine/runtime"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/pkg/metrics"
)

// Manager binds registered definitions to runtime.Engine instances,
// lazily, caching one Engine per (name, version) for the lifetime of
// the process. It is constructed once at host startup as an explicit
// service value, never a process-wide singleton.
type Manager struct {
	registry *Registry
	store    store.Store
	authSvc  *auth.AuthorizationService
	clock    store.Clock
	emitter  *audit.Emitter
	metrics  *metrics.WorkflowMetrics

	mu        sync.Mutex
	callbacks map[string]runtime.CallbackRegistry
	engines   map[string]*runtime.Engine
}

// NewManager constructs a Manager over registry, wired to the host's
// Store/AuthorizationService/Clock and a shared audit.Emitter.
func NewManager(registry *Registry, s store.Store, authSvc *auth.AuthorizationService, clock store.Clock, emitter *audit.Emitter) *Manager {
	return &Manager{
		registry:  registry,
		store:     s,
		authSvc:   authSvc,
		clock:     clock,
		emitter:   emitter,
		callbacks: make(map[string]runtime.CallbackRegistry),
		engines:   make(map[string]*runtime.Engine),
	}
}

// SetMetrics attaches a metrics.WorkflowMetrics to every Engine this
// Manager builds from this point on; already-built (cached) engines are
// updated too, since a later Resolve would otherwise just hand back the
// same cached instance.
func (m *Manager) SetMetrics(metricsSvc *metrics.WorkflowMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metricsSvc
	for _, eng := range m.engines {
		eng.SetMetrics(metricsSvc)
	}
}

// Bind attaches the host-implemented task/initialize callbacks for
// (name, version), consulted the first time Resolve constructs that
// definition's Engine. Call this before the first Resolve; rebinding
// after an Engine has already been constructed has no effect on the
// cached instance.
func (m *Manager) Bind(name, version string, callbacks runtime.CallbackRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[key(name, version)] = callbacks
}

// Resolve returns the Facade for (name, version), building the
// backing Engine on first use.
func (m *Manager) Resolve(name, version string) (*Facade, error) {
	k := key(name, version)
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[k]; ok {
		return &Facade{Name: name, Version: version, engine: eng}, nil
	}
	def, ok := m.registry.Get(name, version)
	if !ok {
		return nil, fmt.Errorf("version: %s is not registered", k)
	}
	eng := runtime.New(def, m.callbacks[k], m.store, m.authSvc, m.clock, m.emitter)
	if m.metrics != nil {
		eng.SetMetrics(m.metrics)
	}
	m.engines[k] = eng
	return &Facade{Name: name, Version: version, engine: eng}, nil
}
