// Package telemetry installs the OpenTelemetry trace and metric pipelines
// shared by the RoadPulse binaries.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/roadpulse/roadpulse/internal/config"
)

const defaultExportInterval = 15 * time.Second

// Config selects the exporters for one binary.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Enabled        bool
	Insecure       bool

	// SampleRatio is the fraction of root traces recorded. Zero or
	// anything above 1 records every trace.
	SampleRatio float64

	// ExportInterval is the metric push period. Default: 15s.
	ExportInterval time.Duration
}

// FromConfig builds the telemetry settings for one binary.
func FromConfig(c config.Config, serviceName, version string) Config {
	t := c.Telemetry
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.App.Environment,
		OTLPEndpoint:   t.OTLPEndpoint,
		Enabled:        t.Enabled,
		Insecure:       t.Insecure,
		SampleRatio:    t.SampleRatio,
		ExportInterval: t.ExportInterval,
	}
}

// Sampler returns the trace sampler for cfg. Child spans follow their
// parent's decision.
func (cfg Config) Sampler() sdktrace.Sampler {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
}

// Resource describes the process to the collector.
func (cfg Config) Resource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithHost(),
		resource.WithProcessRuntimeVersion(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
}

// Provider owns the installed SDK providers. A disabled provider holds none
// and the global no-op providers stay in place.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Enabled reports whether exporters are running.
func (p *Provider) Enabled() bool {
	return p.TracerProvider != nil || p.MeterProvider != nil
}

// Shutdown flushes and stops both providers, reporting every failure.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Init installs the OTLP exporters as the global providers and the W3C
// propagators. The returned Provider must be shut down on exit.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	// Inbound trace context is honoured even with export disabled.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := cfg.Resource(ctx)
	if err != nil {
		return nil, err
	}

	spanExporter, err := otlptracegrpc.New(ctx, cfg.traceOptions()...)
	if err != nil {
		return nil, err
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, cfg.metricOptions()...)
	if err != nil {
		return nil, errors.Join(err, spanExporter.Shutdown(ctx))
	}

	p := &Provider{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(cfg.Sampler()),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(cfg.exportInterval()),
			)),
			sdkmetric.WithResource(res),
		),
	}
	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	return p, nil
}

func (cfg Config) traceOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func (cfg Config) metricOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func (cfg Config) exportInterval() time.Duration {
	if cfg.ExportInterval <= 0 {
		return defaultExportInterval
	}
	return cfg.ExportInterval
}
