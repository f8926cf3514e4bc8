package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Creation(t *testing.T) {
	t.Run("Should create manager with default service", func(t *testing.T) {
		manager := NewManager(nil)
		require.NotNil(t, manager)
		require.NotNil(t, manager.Service)
		assert.Equal(t, 100*time.Millisecond, manager.debounce)
		require.NoError(t, manager.Close(context.Background()))
	})

	t.Run("Should create manager with custom service", func(t *testing.T) {
		service := NewService()
		manager := NewManager(service)
		require.NotNil(t, manager)
		assert.Equal(t, service, manager.Service)
		require.NoError(t, manager.Close(context.Background()))
	})

	t.Run("Should configure debounce duration", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		manager.SetDebounce(500 * time.Millisecond)
		assert.Equal(t, 500*time.Millisecond, manager.debounce)
	})
}

func TestManager_Load(t *testing.T) {
	t.Run("Should load configuration from sources", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		ctx := context.Background()
		cfg, err := manager.Load(ctx, NewDefaultProvider())

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, "development", cfg.Runtime.Environment)
	})

	t.Run("Should store configuration atomically", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		assert.Nil(t, manager.Get())

		ctx := context.Background()
		cfg, err := manager.Load(ctx, NewDefaultProvider())
		require.NoError(t, err)

		assert.Equal(t, cfg, manager.Get())
	})

	t.Run("Should let later sources override earlier ones", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		tmpDir := t.TempDir()
		yamlPath := filepath.Join(tmpDir, "config.yaml")
		yamlContent := `
store:
  driver: postgres
  postgres_dsn: postgres://localhost/flowforge
`
		require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0o644))

		ctx := context.Background()
		cfg, err := manager.Load(ctx, NewDefaultProvider(), NewYAMLProvider(yamlPath))

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, "postgres://localhost/flowforge", cfg.Store.PostgresDSN)
		// fields the override didn't touch keep the default layer's value
		assert.Equal(t, "development", cfg.Runtime.Environment)
	})

	t.Run("Should reject an invalid merged configuration", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		tmpDir := t.TempDir()
		yamlPath := filepath.Join(tmpDir, "config.yaml")
		require.NoError(t, os.WriteFile(yamlPath, []byte("store:\n  driver: carrier-pigeon\n"), 0o644))

		ctx := context.Background()
		_, err := manager.Load(ctx, NewDefaultProvider(), NewYAMLProvider(yamlPath))
		require.Error(t, err)
	})
}

func TestManager_Get(t *testing.T) {
	t.Run("Should return nil before loading", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		assert.Nil(t, manager.Get())
	})

	t.Run("Should handle concurrent access safely", func(t *testing.T) {
		manager := NewManager(nil)
		defer manager.Close(context.Background())

		ctx := context.Background()
		_, err := manager.Load(ctx, NewDefaultProvider())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NotNil(t, manager.Get())
			}()
		}
		wg.Wait()
	})
}

func TestManager_OnChange(t *testing.T) {
	t.Run("Should notify listeners after a watched provider changes", func(t *testing.T) {
		tmpDir := t.TempDir()
		yamlPath := filepath.Join(tmpDir, "config.yaml")
		require.NoError(t, os.WriteFile(yamlPath, []byte("runtime:\n  environment: development\n"), 0o644))

		manager := NewManager(nil)
		manager.SetDebounce(10 * time.Millisecond)
		defer manager.Close(context.Background())

		var notified int32
		manager.OnChange(func(_ *Config) { atomic.AddInt32(&notified, 1) })

		ctx := context.Background()
		_, err := manager.Load(ctx, NewDefaultProvider(), NewYAMLProvider(yamlPath))
		require.NoError(t, err)

		time.Sleep(200 * time.Millisecond)
		require.NoError(t, os.WriteFile(yamlPath, []byte("runtime:\n  environment: production\n"), 0o644))

		require.Eventually(t, func() bool {
			return atomic.LoadInt32(&notified) > 0
		}, 2*time.Second, 50*time.Millisecond, "expected OnChange to fire after file write")
	})
}

func TestManager_Close(t *testing.T) {
	t.Run("Should close gracefully without hanging", func(t *testing.T) {
		manager := NewManager(nil)

		ctx := context.Background()
		_, err := manager.Load(ctx, NewDefaultProvider())
		require.NoError(t, err)

		done := make(chan bool)
		go func() {
			assert.NoError(t, manager.Close(context.Background()))
			done <- true
		}()

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for close")
		}
	})
}
