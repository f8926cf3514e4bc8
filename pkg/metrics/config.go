package metrics

import "fmt"

// Config controls whether the metrics endpoint is exposed and where.
type Config struct {
	// Enabled activates instrument registration and the exporter
	// handler. Default: false.
	Enabled bool `koanf:"enabled"`
	// Path is the HTTP path the Prometheus exporter is served on.
	// Default: /metrics.
	Path string `koanf:"path"`
}

func DefaultConfig() *Config {
	return &Config{Enabled: false, Path: "/metrics"}
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with '/': got %s", c.Path)
	}
	return nil
}
