package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
)

const defaultDebounce = 100 * time.Millisecond

// Manager loads, merges, validates, and holds the currently active
// Config, and rebounces watched-provider change notifications into
// OnChange listeners. Exactly one Manager normally exists per process.
type Manager struct {
	Service *Service

	mu        sync.Mutex
	debounce  time.Duration
	listeners []func(*Config)
	cancelFns []context.CancelFunc
	wg        sync.WaitGroup

	current atomic.Pointer[Config]
}

// NewManager constructs a Manager. A nil service gets a fresh
// NewService().
func NewManager(service *Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{Service: service, debounce: defaultDebounce}
}

// SetDebounce overrides the default 100ms delay applied before an
// OnChange listener runs after a watched provider signals a change.
func (m *Manager) SetDebounce(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounce = d
}

// Load merges providers in order — later providers override earlier
// ones, field by field, via mergo.WithOverride — validates the result,
// stores it as the active Config, and starts watching every provider
// that supports it.
func (m *Manager) Load(ctx context.Context, providers ...Provider) (*Config, error) {
	merged := map[string]any{}
	for _, p := range providers {
		data, err := p.Load()
		if err != nil {
			return nil, fmt.Errorf("config: load %s provider: %w", p.Type(), err)
		}
		if err := mergo.Merge(&merged, data, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge %s provider: %w", p.Type(), err)
		}
	}
	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := m.Service.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	m.current.Store(cfg)
	for _, p := range providers {
		if err := m.watch(ctx, p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (m *Manager) watch(ctx context.Context, p Provider) error {
	watchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelFns = append(m.cancelFns, cancel)
	m.mu.Unlock()
	if err := p.Watch(watchCtx, m.notify); err != nil {
		cancel()
		return fmt.Errorf("config: watch %s provider: %w", p.Type(), err)
	}
	return nil
}

// notify debounces rapid successive change signals from Watch before
// invoking every registered OnChange listener with the config current
// at the time the debounce window closes.
func (m *Manager) notify() {
	m.mu.Lock()
	d := m.debounce
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(d)
		cfg := m.Get()
		for _, fn := range listeners {
			fn(cfg)
		}
	}()
}

// OnChange registers fn to run, after the debounce window, whenever a
// watched provider reports a change. Load itself does not invoke
// listeners; only subsequent external changes do.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Get returns the currently active Config, or nil before the first
// successful Load.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Close cancels every provider watch and waits for any in-flight
// debounced notification goroutines to finish, or ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	fns := m.cancelFns
	m.cancelFns = nil
	m.mu.Unlock()
	for _, cancel := range fns {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
