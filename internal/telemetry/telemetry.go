// Package telemetry installs the OpenTelemetry meter provider. Without
// OTEL_STDOUT the global no-op provider stays in place.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const ServiceName = "jira-slack-pm"

// Shutdown flushes pending metrics.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a stdout-exporting meter provider when cfg.OTelStdout is set.
// Metrics go to stderr so command output on stdout stays clean.
func Init(ctx context.Context, cfg config.Config, version string, log zerolog.Logger) (Shutdown, error) {
	if !cfg.OTelStdout {
		return noop, nil
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return noop, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	mp, err := newProvider(ctx, version, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)))
	if err != nil {
		return noop, err
	}
	otel.SetMeterProvider(mp)
	log.Info().Msg("telemetry: stdout metrics enabled")
	return mp.Shutdown, nil
}

func newProvider(ctx context.Context, version string, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}
