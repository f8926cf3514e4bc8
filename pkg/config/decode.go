package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// structToMap flattens cfg into the same nested-map shape Provider.Load
// returns, via koanf's struct provider, so a *Config can be layered
// back in as a Provider (NewStructProvider) the same way a YAML file
// is.
func structToMap(cfg *Config) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("marshal struct: %w", err)
	}
	return k.Raw(), nil
}

// decode merges the layered provider maps into one Config via koanf's
// confmap provider, which reads "." as the nesting delimiter matching
// every koanf struct tag above.
func decode(merged map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(merged, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load merged map: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
