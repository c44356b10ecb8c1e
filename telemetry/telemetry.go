// Package telemetry wraps an OpenTelemetry tracer provider. Without an endpoint every span is
// a no-op.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName         = "github.com/colorfulnotion/cpjit"
	DefaultServiceName = "cpjit"
)

type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables tracing.
	Endpoint    string  `toml:"endpoint"`
	ServiceName string  `toml:"service_name"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Provider manages the lifecycle of the tracer provider.
type Provider struct {
	tp       trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	disabled bool
}

// NewNoOp returns a disabled provider whose spans do nothing.
func NewNoOp() *Provider {
	tp := noop.NewTracerProvider()
	return &Provider{
		tp:       tp,
		tracer:   tp.Tracer(TracerName),
		shutdown: func(context.Context) error { return nil },
		disabled: true,
	}
}

// New exports spans to cfg.Endpoint over OTLP/HTTP and installs the provider globally.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return NewNoOp(), nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter for %s: %w", cfg.Endpoint, err)
	}
	p := newSDK(sdktrace.NewBatchSpanProcessor(exp), cfg)
	otel.SetTracerProvider(p.tp)
	return p, nil
}

// NewWithProcessor builds an SDK provider around sp, e.g. a tracetest.SpanRecorder.
func NewWithProcessor(sp sdktrace.SpanProcessor, cfg Config) *Provider {
	return newSDK(sp, cfg)
}

func newSDK(sp sdktrace.SpanProcessor, cfg Config) *Provider {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	return &Provider{tp: tp, tracer: tp.Tracer(TracerName), shutdown: tp.Shutdown}
}

func (p *Provider) Enabled() bool                        { return !p.disabled }
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tp }

func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
