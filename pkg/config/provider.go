package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SourceType identifies where a Provider's data came from, surfaced in
// error messages and logs.
type SourceType string

const (
	SourceDefault  SourceType = "default"
	SourceYAML     SourceType = "yaml"
	SourceStruct   SourceType = "struct"
	SourceOverride SourceType = "override"
)

// Provider supplies one layer of configuration data as a nested map
// keyed the same way Config's koanf tags nest, plus an optional watch
// for sources that can change at runtime. Manager.Load merges
// Providers in the order given, later ones overriding earlier ones.
type Provider interface {
	Load() (map[string]any, error)
	Type() SourceType
	// Watch invokes onChange whenever the underlying source changes.
	// A Provider with no notion of change (NewDefaultProvider,
	// NewStructProvider) returns nil without ever calling onChange.
	Watch(ctx context.Context, onChange func()) error
}

// defaultProvider supplies the engine's built-in defaults. It is
// always the first provider passed to Manager.Load.
type defaultProvider struct{}

func NewDefaultProvider() Provider { return defaultProvider{} }

func (defaultProvider) Load() (map[string]any, error) {
	return map[string]any{
		"store": map[string]any{
			"driver": "memory",
		},
		"cache": map[string]any{
			"driver":              "memory",
			"default_ttl_seconds": 300,
		},
		"audit": map[string]any{
			"retention_seconds":         0,
			"snapshot_interval_seconds": 50,
		},
		"authz": map[string]any{
			"scope_cache_size":  1024,
			"policy_cache_size": 256,
		},
		"runtime": map[string]any{
			"environment":                           "development",
			"max_fixpoint_iterations":               1000,
			"dispatcher_heartbeat_interval_seconds": 5,
		},
	}, nil
}

func (defaultProvider) Type() SourceType { return SourceDefault }

func (defaultProvider) Watch(_ context.Context, _ func()) error { return nil }

// structProvider supplies a pre-built Config value as a layer, useful
// for tests and for hosts that assemble settings programmatically
// rather than from a file.
type structProvider struct {
	data map[string]any
}

// NewStructProvider converts cfg into a layer via the same koanf tags
// used to decode one, so callers can compose partial overrides with
// ordinary Go struct literals instead of YAML.
func NewStructProvider(cfg *Config) (Provider, error) {
	data, err := structToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: struct provider: %w", err)
	}
	return structProvider{data: data}, nil
}

func (p structProvider) Load() (map[string]any, error) { return p.data, nil }

func (structProvider) Type() SourceType { return SourceStruct }

func (structProvider) Watch(_ context.Context, _ func()) error { return nil }

// yamlProvider loads a layer from a YAML file on disk and can watch it
// for changes via fsnotify.
type yamlProvider struct {
	path string
}

func NewYAMLProvider(path string) Provider {
	return yamlProvider{path: path}
}

func (p yamlProvider) Load() (map[string]any, error) {
	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", p.path, err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("config: failed to parse YAML file %s: %w", p.path, err)
	}
	return data, nil
}

func (yamlProvider) Type() SourceType { return SourceYAML }

func (p yamlProvider) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(p.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", p.path, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", p.path, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// overrideProvider supplies a layer built from dot-separated key paths
// ("store.driver" -> "postgres"), for hosts that want to override a
// handful of settings without writing a YAML file — e.g. a flag or
// environment variable the host itself parsed.
type overrideProvider struct {
	values map[string]string
}

// NewOverrideProvider builds a Provider from dot-path keys, each
// expanded into nested maps by setNested when the layer is loaded.
func NewOverrideProvider(values map[string]string) Provider {
	return overrideProvider{values: values}
}

func (p overrideProvider) Load() (map[string]any, error) {
	data := map[string]any{}
	for path, value := range p.values {
		if err := setNested(data, path, value); err != nil {
			return nil, fmt.Errorf("config: override provider: %w", err)
		}
	}
	return data, nil
}

func (overrideProvider) Type() SourceType { return SourceOverride }

func (overrideProvider) Watch(_ context.Context, _ func()) error { return nil }

// setNested assigns value at the dot-separated path within m,
// creating intermediate maps as needed. It errors rather than
// clobbering if an intermediate segment already holds a non-map value.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	cur := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return nil
		}
		next, exists := cur[seg]
		if !exists {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", seg)
		}
		cur = child
	}
	return nil
}
