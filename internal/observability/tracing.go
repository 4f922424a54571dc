// Package observability provides tracing, metrics, logging and the sync
// audit trail for wxcode.
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
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the wxcode tracer.
	TracerName = "github.com/GilbertoAbrao/wxcode-sub008"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "wxcode")
	ServiceName string

	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "wxcode",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
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
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
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

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds used in the wxcode.span.kind attribute.
const (
	SpanKindAggregate = "aggregate"
	SpanKindBuild     = "build"
	SpanKindSync      = "sync"
	SpanKindQuery     = "query"
)

// StartAggregateSpan starts a span covering the aggregation of a project.
func StartAggregateSpan(ctx context.Context, projectID string, artifactCount int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "aggregate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("wxcode.span.kind", SpanKindAggregate),
			attribute.String("wxcode.project", projectID),
			attribute.Int("aggregate.artifact_count", artifactCount),
		),
	)
}

// RecordAggregateResult records aggregation counters on a span.
func RecordAggregateResult(span trace.Span, reused, skippedBodies int) {
	span.SetAttributes(
		attribute.Int("aggregate.reused", reused),
		attribute.Int("aggregate.skipped_bodies", skippedBodies),
	)
}

// StartBuildSpan starts a span for graph model construction.
func StartBuildSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "graph.build",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("wxcode.span.kind", SpanKindBuild),
			attribute.String("wxcode.project", projectID),
		),
	)
}

// RecordBuildResult records model sizes on a span.
func RecordBuildResult(span trace.Span, nodes, edges, placeholders, cycles int) {
	span.SetAttributes(
		attribute.Int("graph.nodes", nodes),
		attribute.Int("graph.edges", edges),
		attribute.Int("graph.placeholders", placeholders),
		attribute.Int("graph.cycle_nodes", cycles),
	)
}

// StartSyncSpan starts a span for a graph store sync.
func StartSyncSpan(ctx context.Context, projectID string, dryRun bool) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "graph.sync",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("wxcode.span.kind", SpanKindSync),
			attribute.String("wxcode.project", projectID),
			attribute.Bool("sync.dry_run", dryRun),
		),
	)
}

// RecordSyncResult records what a sync wrote.
func RecordSyncResult(span trace.Span, runID string, nodes, edges int) {
	span.SetAttributes(
		attribute.String("sync.run_id", runID),
		attribute.Int("sync.nodes", nodes),
		attribute.Int("sync.edges", edges),
	)
}

// StartQuerySpan starts a span for an analyzer query such as "impact".
func StartQuerySpan(ctx context.Context, projectID, query string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "query."+query,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("wxcode.span.kind", SpanKindQuery),
			attribute.String("wxcode.project", projectID),
			attribute.String("query.name", query),
		),
	)
}

// RecordQueryResult records the number of results a query produced.
func RecordQueryResult(span trace.Span, results int) {
	span.SetAttributes(attribute.Int("query.results", results))
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
