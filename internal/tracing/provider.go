// Package tracing sets up OpenTelemetry tracing for outgoing load test
// requests and propagates W3C trace context to the system under test.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "surge"

// Config controls span export.
type Config struct {
	// Endpoint is the OTLP/HTTP collector address (host:port). Empty
	// falls back to OTEL_EXPORTER_OTLP_ENDPOINT; if both are empty
	// tracing is disabled.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// ServiceName defaults to OTEL_SERVICE_NAME, then "surge".
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`

	// SampleRate is the fraction of request spans kept (0-1, default 1).
	SampleRate *float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`

	// Insecure disables TLS towards the collector.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// Provider wraps the SDK tracer provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init creates a provider. A disabled configuration yields a provider with
// a no-op tracer.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return &Provider{}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate != nil {
		rate := *cfg.SampleRate
		switch {
		case rate < 0 || rate > 1:
			return nil, fmt.Errorf("tracing sampleRate must be between 0 and 1, got %g", rate)
		case rate == 0:
			sampler = sdktrace.NeverSample()
		case rate < 1:
			sampler = sdktrace.TraceIDRatioBased(rate)
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(defaultServiceName)}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer returns the configured tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(defaultServiceName)
	}
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
