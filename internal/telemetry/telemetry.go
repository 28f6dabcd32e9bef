// Package telemetry installs the global OpenTelemetry providers.
//
// Spans come from the management service client and the sync loops.
// Without an exporter the providers still record, so span context flows
// through logs, but nothing leaves the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name.
const ServiceName = "sentinel-agent"

// DefaultMetricInterval is the stdout metric export period.
const DefaultMetricInterval = time.Minute

// Options selects exporters.
type Options struct {
	Version       string
	TraceStdout   bool
	MetricsStdout bool
	// Writer receives stdout exports. Defaults to os.Stdout in the exporters.
	Writer         io.Writer
	MetricInterval time.Duration
}

// Providers holds the installed providers.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Setup builds the providers and installs them globally.
func Setup(opts Options) (*Providers, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.TraceStdout {
		var exOpts []stdouttrace.Option
		if opts.Writer != nil {
			exOpts = append(exOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exporter, err := stdouttrace.New(exOpts...)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.MetricsStdout {
		var exOpts []stdoutmetric.Option
		if opts.Writer != nil {
			exOpts = append(exOpts, stdoutmetric.WithWriter(opts.Writer))
		}
		exporter, err := stdoutmetric.New(exOpts...)
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		interval := opts.MetricInterval
		if interval <= 0 {
			interval = DefaultMetricInterval
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		))
	}

	p := &Providers{
		Tracer: sdktrace.NewTracerProvider(traceOpts...),
		Meter:  sdkmetric.NewMeterProvider(meterOpts...),
	}
	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)
	return p, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}
