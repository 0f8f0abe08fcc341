// Package observability provides OpenTelemetry metrics for the analysis
// pipeline and the HTTP API.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/dangerclosesec/strategist"

// Metrics holds all instruments. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal   metric.Int64Counter
	RequestDuration metric.Float64Histogram

	AnalysesSubmitted metric.Int64Counter
	AnalysesFinished  metric.Int64Counter
	EntitlementDenied metric.Int64Counter

	AgentInvocations metric.Int64Counter
	AgentDuration    metric.Float64Histogram

	IntegrityViolations metric.Int64Counter

	QueueDepth     metric.Int64ObservableGauge
	queueDepthFunc func() int64
}

// NewMetrics creates a new Metrics instance with all instruments registered.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	meter := meterProvider.Meter(instrumentationName)
	m := &Metrics{}

	var err error

	m.RequestsTotal, err = meter.Int64Counter(
		"strategist.http.requests.total",
		metric.WithDescription("Total number of HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"strategist.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	m.AnalysesSubmitted, err = meter.Int64Counter(
		"strategist.analyses.submitted",
		metric.WithDescription("Analyses accepted and queued"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		return nil, err
	}

	m.AnalysesFinished, err = meter.Int64Counter(
		"strategist.analyses.finished",
		metric.WithDescription("Analyses that reached a terminal status"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		return nil, err
	}

	m.EntitlementDenied, err = meter.Int64Counter(
		"strategist.entitlement.denied",
		metric.WithDescription("Requests denied by the plan gate"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentInvocations, err = meter.Int64Counter(
		"strategist.agent.invocations",
		metric.WithDescription("Agent invocations by outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram(
		"strategist.agent.duration",
		metric.WithDescription("Agent invocation duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 30000, 60000, 120000, 300000),
	)
	if err != nil {
		return nil, err
	}

	m.IntegrityViolations, err = meter.Int64Counter(
		"strategist.tenant.integrity_violations",
		metric.WithDescription("Cross-tenant writes rejected by the row policy"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterQueueDepthCallback registers a callback to observe queue depth.
func (m *Metrics) RegisterQueueDepthCallback(meterProvider metric.MeterProvider, fn func() int64) error {
	if m == nil {
		return nil
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	meter := meterProvider.Meter(instrumentationName)
	m.queueDepthFunc = fn

	var err error
	m.QueueDepth, err = meter.Int64ObservableGauge(
		"strategist.queue.depth",
		metric.WithDescription("Analyses waiting for a worker"),
		metric.WithUnit("{analysis}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			if m.queueDepthFunc != nil {
				o.Observe(m.queueDepthFunc())
			}
			return nil
		}),
	)
	return err
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass(statusCode)),
	)
	m.RequestsTotal.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *Metrics) RecordSubmitted(ctx context.Context, plan string) {
	if m == nil {
		return
	}
	m.AnalysesSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("plan", plan)))
}

func (m *Metrics) RecordFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.AnalysesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordDenied(ctx context.Context, plan, reason string) {
	if m == nil {
		return
	}
	m.EntitlementDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", plan),
		attribute.String("reason", reason),
	))
}

// RecordAgent records one agent invocation.
func (m *Metrics) RecordAgent(ctx context.Context, agentID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agentID),
		attribute.String("outcome", outcome),
	)
	m.AgentInvocations.Add(ctx, 1, attrs)
	m.AgentDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *Metrics) RecordIntegrityViolation(ctx context.Context) {
	if m == nil {
		return
	}
	m.IntegrityViolations.Add(ctx, 1)
}

// statusClass returns the status class (1xx, 2xx, etc.)
func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
