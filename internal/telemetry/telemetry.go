// Package telemetry wires the daemon counters into OpenTelemetry. Export is
// optional: when no OTLP endpoint is configured the daemon runs with the
// in-process counters only.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ServiceName identifies this daemon in exported metrics.
const ServiceName = "rdt-infoplus-dvs"

// scopeName is the instrumentation scope for all daemon meters.
const scopeName = "github.com/rijdendetreinen/rdt-infoplus-dvs"

// Exporter owns the MeterProvider backing the daemon's exported metrics.
type Exporter struct {
	provider *sdkmetric.MeterProvider
}

// Init sets up an OTLP/gRPC metric exporter towards endpoint (host:port,
// plaintext) with a periodic reader, and installs it as the global meter
// provider. The caller must Shutdown the returned Exporter to flush.
func Init(ctx context.Context, endpoint string) (*Exporter, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		)),
	)
	otel.SetMeterProvider(provider)

	return &Exporter{provider: provider}, nil
}

// Meter returns the daemon's meter.
func (e *Exporter) Meter() metric.Meter {
	return e.provider.Meter(scopeName)
}

// Shutdown flushes pending metrics and stops the periodic reader.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
