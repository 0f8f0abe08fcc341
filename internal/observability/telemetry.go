package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the instruments and the registry /metrics serves. With
// metrics disabled Metrics is nil and every recording call is a no-op.
type Telemetry struct {
	Metrics *Metrics

	meters   *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// Setup builds the telemetry for a process. The registry is private to the
// returned value, so separate instances never collide on metric names.
func Setup(enabled bool) (*Telemetry, error) {
	if !enabled {
		return &Telemetry{}, nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	metrics, err := NewMetrics(meters)
	if err != nil {
		_ = meters.Shutdown(context.Background())
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return &Telemetry{Metrics: metrics, meters: meters, registry: registry}, nil
}

func (t *Telemetry) Enabled() bool {
	return t.registry != nil
}

// ObserveQueueDepth reports fn as the dispatcher queue gauge.
func (t *Telemetry) ObserveQueueDepth(fn func() int64) error {
	if !t.Enabled() {
		return nil
	}
	return t.Metrics.RegisterQueueDepthCallback(t.meters, fn)
}

// Handler serves the registry in the Prometheus text format. It answers 404
// when metrics are disabled.
func (t *Telemetry) Handler() http.Handler {
	if !t.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.meters == nil {
		return nil
	}
	return t.meters.Shutdown(ctx)
}
