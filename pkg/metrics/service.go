// Package metrics wires OpenTelemetry metric instruments to a
// Prometheus exporter for the engine's own ambient observability —
// distinct from engine/audit's span log, which records workflow
// history rather than aggregate counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "flowforge"

// Service owns the meter provider and registry backing the engine's
// metrics. A disabled or failed-to-initialize Service still returns a
// usable no-op Meter so callers never need a nil check.
type Service struct {
	meter       metric.Meter
	provider    *sdkmetric.MeterProvider
	registry    *prom.Registry
	config      *Config
	initialized bool
	initErr     error

	Workflow *WorkflowMetrics
}

func newDisabledService(cfg *Config, initErr error) *Service {
	meter := noop.NewMeterProvider().Meter(meterName)
	return &Service{
		config:      cfg,
		meter:       meter,
		initialized: false,
		initErr:     initErr,
		Workflow:    &WorkflowMetrics{},
	}
}

// NewService builds a Service. A nil or disabled cfg yields a no-op
// Service rather than an error, so hosts can leave metrics off by
// default without special-casing callers.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: initialize prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	workflow, err := newWorkflowMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &Service{
		meter:       meter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		initialized: true,
		Workflow:    workflow,
	}, nil
}

// NewServiceWithFallback is NewService, but degrades to a no-op
// Service instead of returning an error — for hosts that should never
// fail to start merely because metrics initialization failed.
func NewServiceWithFallback(cfg *Config) *Service {
	svc, err := NewService(cfg)
	if err != nil {
		return newDisabledService(cfg, err)
	}
	return svc
}

func (s *Service) Meter() metric.Meter { return s.meter }

func (s *Service) IsInitialized() bool { return s.initialized }

func (s *Service) InitializationError() error { return s.initErr }

// SetAsGlobal installs this Service's provider as the process-wide
// OpenTelemetry meter provider, for code that calls otel.Meter(...)
// rather than holding a Service reference directly.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

// ExporterHandler serves the Prometheus exposition format at the
// configured Config.Path.
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics service not initialized"))
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Shutdown(ctx)
	}
	return nil
}
