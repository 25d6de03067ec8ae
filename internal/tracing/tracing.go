// Package tracing wires OpenTelemetry for the feed service: provider setup,
// OTLP exporters and span helpers for database, cache and ranking stages.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Exporter names accepted in Config.ExporterType.
const (
	ExporterGRPC = "otlp-grpc"
	ExporterHTTP = "otlp-http"
)

const (
	exporterDialTimeout = 10 * time.Second
	batchTimeout        = 5 * time.Second
	maxExportBatch      = 512
)

var (
	ErrMissingServiceName  = errors.New("tracing: service name is required")
	ErrInvalidSamplingRate = errors.New("tracing: sampling rate must be within [0, 1]")
	ErrUnknownExporter     = errors.New("tracing: unknown exporter")
)

// Config selects where feed spans go and how many of them are kept.
// An empty ExporterType means OTLP over HTTP. An empty OTLPEndpoint lets
// the exporter fall back to the OTEL_EXPORTER_OTLP_* environment.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	ExporterType   string
	OTLPEndpoint   string
	SamplingRate   float64
	// InsecureMode drops TLS on the collector connection. Local use only.
	InsecureMode bool
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidSamplingRate, c.SamplingRate)
	}
	switch c.ExporterType {
	case "", ExporterHTTP, ExporterGRPC:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExporter, c.ExporterType)
	}
}

// Provider owns the SDK tracer provider. A Provider built from a disabled
// Config holds nothing and its Shutdown is a no-op; the span helpers then
// run against the global no-op tracer.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider validates cfg, dials the configured exporter and installs the
// result as the global tracer provider and propagator.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		slog.Info("tracing disabled")
		return &Provider{}, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
	defer cancel()

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter %s: %w", exporterName(cfg), err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(batchTimeout),
			sdktrace.WithMaxExportBatchSize(maxExportBatch),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing enabled",
		slog.Group("tracing",
			"exporter", exporterName(cfg),
			"endpoint", cfg.OTLPEndpoint,
			"sampling_rate", cfg.SamplingRate,
		),
		"environment", cfg.Environment,
	)
	return &Provider{tp: tp}, nil
}

func exporterName(cfg Config) string {
	if cfg.ExporterType == "" {
		return ExporterHTTP
	}
	return cfg.ExporterType
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	return resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		attribute.String("environment", cfg.Environment),
	))
}

// newExporter builds the OTLP client named by cfg.ExporterType. Both
// transports take the same endpoint and TLS settings.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if exporterName(cfg) == ExporterGRPC {
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.InsecureMode {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.InsecureMode {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// samplerFor maps a sampling fraction onto a parent-based sampler so
// upstream sampling decisions are respected.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes buffered feed spans. Call it after the HTTP server has
// drained so the spans of in-flight requests are exported.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	return nil
}
