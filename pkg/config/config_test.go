package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) *Config {
	t.Helper()
	data, err := NewDefaultProvider().Load()
	require.NoError(t, err)
	cfg, err := decode(data)
	require.NoError(t, err)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Should accept the default configuration", func(t *testing.T) {
		svc := NewService()
		assert.NoError(t, svc.Validate(baseConfig(t)))
	})

	t.Run("Should reject an unknown store driver", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.Store.Driver = "magic"
		svc := NewService()
		assert.Error(t, svc.Validate(cfg))
	})

	t.Run("Should require a postgres DSN when the driver is postgres", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresDSN = ""
		svc := NewService()
		assert.Error(t, svc.Validate(cfg))
	})

	t.Run("Should accept postgres once a DSN is set", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresDSN = "postgres://localhost/flowforge"
		svc := NewService()
		assert.NoError(t, svc.Validate(cfg))
	})

	t.Run("Should reject an unknown runtime environment", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.Runtime.Environment = "staging-prod-ish"
		svc := NewService()
		assert.Error(t, svc.Validate(cfg))
	})

	t.Run("Should reject a zero MaxFixpointIterations", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.Runtime.MaxFixpointIterations = 0
		svc := NewService()
		assert.Error(t, svc.Validate(cfg))
	})
}

func TestConfig_DurationAccessors(t *testing.T) {
	t.Run("Should convert *Seconds fields to time.Duration", func(t *testing.T) {
		cfg := Config{
			Cache:   CacheConfig{DefaultTTLSeconds: 30},
			Audit:   AuditConfig{RetentionSeconds: 3600, SnapshotIntervalSeconds: 50},
			Runtime: RuntimeConfig{DispatcherHeartbeatIntervalSeconds: 5},
		}
		assert.Equal(t, 30_000_000_000, int(cfg.Cache.DefaultTTL()))
		assert.Equal(t, 3_600_000_000_000, int(cfg.Audit.Retention()))
		assert.Equal(t, 50_000_000_000, int(cfg.Audit.SnapshotInterval()))
		assert.Equal(t, 5_000_000_000, int(cfg.Runtime.DispatcherHeartbeatInterval()))
	})
}
