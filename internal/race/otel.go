package race

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "backend-karttracker/internal/race"

func meter(provider metric.MeterProvider) metric.Meter {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	return provider.Meter(instrumentationName)
}

type metrics struct {
	samples  metric.Int64Counter
	laps     metric.Int64Counter
	finished metric.Int64Counter
	active   metric.Int64ObservableGauge
}

// newMetrics registers the race instruments on provider, or on the global
// provider when nil.
func newMetrics(provider metric.MeterProvider, activeRaces func() int) (metrics, error) {
	m := meter(provider)
	var out metrics
	var err error

	out.samples, err = m.Int64Counter(
		"race.samples",
		metric.WithDescription("Position samples applied to tracking"),
	)
	if err != nil {
		return metrics{}, fmt.Errorf("creating samples counter: %w", err)
	}

	out.laps, err = m.Int64Counter(
		"race.laps",
		metric.WithDescription("Laps completed"),
	)
	if err != nil {
		return metrics{}, fmt.Errorf("creating laps counter: %w", err)
	}

	out.finished, err = m.Int64Counter(
		"race.finished",
		metric.WithDescription("Races finished and recorded"),
	)
	if err != nil {
		return metrics{}, fmt.Errorf("creating finished counter: %w", err)
	}

	out.active, err = m.Int64ObservableGauge(
		"race.active",
		metric.WithDescription("Runners currently being tracked"),
	)
	if err != nil {
		return metrics{}, fmt.Errorf("creating active gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(out.active, int64(activeRaces()))
			return nil
		},
		out.active,
	)
	if err != nil {
		return metrics{}, fmt.Errorf("registering active callback: %w", err)
	}
	return out, nil
}

func circuitAttr(circuitID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("circuit_id", circuitID))
}
