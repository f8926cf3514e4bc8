package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	t.Run("Should create a no-op service with a nil config", func(t *testing.T) {
		svc, err := NewService(nil)
		require.NoError(t, err)
		assert.NotNil(t, svc)
		assert.False(t, svc.IsInitialized())
		assert.NotNil(t, svc.Meter())
		assert.NotNil(t, svc.Workflow)
	})

	t.Run("Should fail with an invalid config", func(t *testing.T) {
		svc, err := NewService(&Config{Enabled: true, Path: ""})
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("Should initialize a Prometheus-backed meter when enabled", func(t *testing.T) {
		svc, err := NewService(&Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		assert.True(t, svc.IsInitialized())
		assert.NoError(t, svc.Shutdown(context.Background()))
	})
}

func TestService_ExporterHandler(t *testing.T) {
	t.Run("Should serve 503 when not initialized", func(t *testing.T) {
		svc, err := NewService(nil)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		svc.ExporterHandler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should serve Prometheus exposition format when enabled", func(t *testing.T) {
		svc, err := NewService(&Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		defer svc.Shutdown(context.Background())

		svc.Workflow.RecordWorkflowSpan(context.Background(), "initialized")

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		svc.ExporterHandler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "flowforge_workflow_spans_total")
	})
}

func TestNewServiceWithFallback(t *testing.T) {
	t.Run("Should degrade to a no-op service on initialization failure", func(t *testing.T) {
		svc := NewServiceWithFallback(&Config{Enabled: true, Path: ""})
		assert.NotNil(t, svc)
		assert.False(t, svc.IsInitialized())
		assert.Error(t, svc.InitializationError())
	})
}

func TestWorkflowMetrics_NilSafe(t *testing.T) {
	t.Run("Should no-op on a zero-value WorkflowMetrics", func(t *testing.T) {
		var m *WorkflowMetrics
		assert.NotPanics(t, func() {
			m.RecordWorkflowSpan(context.Background(), "progressed")
			m.RecordTaskSpan(context.Background(), "storeGreeting", "completed")
			m.RecordWorkItemSpan(context.Background(), "offered")
			m.RecordFixpointIterations(context.Background(), 3)
		})
	})
}
