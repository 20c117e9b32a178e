// Package tracing wires up the OpenTelemetry tracer and meter providers,
// exporting metrics through the same Prometheus registry internal/metrics
// uses. Grounded on the teacher's internal/tracing/otel.go
// (OTelProvider: resource merge, prometheus.New exporter, SDK meter
// provider wired into otel's global setters).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this process in exported resource attributes.
const ServiceName = "mcp-gateway"

// Provider owns the process-wide tracer and meter providers.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	Tracer         trace.Tracer
}

// New builds a Provider whose metrics are exported via the Prometheus
// exporter (scraped by the same registry internal/metrics registers
// against) and whose traces are held in-process (no exporter is wired by
// default; callers may add one via TracerProvider.RegisterSpanProcessor).
func New(ctx context.Context, version string) (*Provider, error) {
	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("merge otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)

	return &Provider{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Tracer:         tracerProvider.Tracer(ServiceName),
	}, nil
}

// Shutdown flushes and releases both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.MeterProvider.Shutdown(ctx)
}
