// Package telemetry installs the process-wide metrics pipeline.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"backend-karttracker/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const ServiceName = "karttracker"

// Shutdown flushes pending metrics and stops the exporter.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a meter provider that writes metrics to w as JSON every
// cfg.MetricsInterval. With a zero interval nothing is installed and the
// global provider stays a no-op.
func Setup(cfg config.Config, w io.Writer) (Shutdown, error) {
	if cfg.MetricsInterval <= 0 {
		return noop, nil
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return noop, fmt.Errorf("creating metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricsInterval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
