// Package observability wires OpenTelemetry tracing for the pipeline.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

const TracerName = "github.com/elliot-woods/pgvector-search"

// TracingConfig configures the exporter. An empty OTLPEndpoint disables export.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	SampleRate     float64
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "pgsearch",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP/gRPC.
// Without an endpoint the global no-op tracer is used.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartPassSpan starts a span for a generation or reconciliation pass.
func StartPassSpan(ctx context.Context, pass string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "pass."+pass,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, attribute.String("pgsearch.pass", pass))...),
	)
}

// RecordPassSummary records per-item outcome counts on a span.
func RecordPassSummary(span trace.Span, s domain.PassSummary) {
	span.SetAttributes(
		attribute.Int("pass.succeeded", s.Succeeded),
		attribute.Int("pass.skipped", s.Skipped),
		attribute.Int("pass.failed", s.FailedCount()),
	)
}

// StartSearchSpan starts a span for a nearest-neighbour query.
func StartSearchSpan(ctx context.Context, probe string, k int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "search."+probe,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("search.probe", probe),
			attribute.Int("search.k", k),
		),
	)
}

// StartIngestSpan starts a span for a direct store ingestion.
func StartIngestSpan(ctx context.Context, identifier string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.add",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("ingest.identifier", identifier)),
	)
}

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
