// Package tracing wires OpenTelemetry tracing for the query backend and
// the session gateway. Spans export over OTLP/gRPC when an endpoint is
// configured and are no-ops otherwise.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracerProvider *sdktrace.TracerProvider

// Initialize sets up the global tracer provider. An empty endpoint leaves
// the default no-op provider in place.
func Initialize(ctx context.Context, serviceName, endpoint string, logger *zap.Logger) error {
	if endpoint == "" {
		if logger != nil {
			logger.Info("Tracing disabled, no OTLP endpoint configured")
		}
		return nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if logger != nil {
		logger.Info("Tracing initialized",
			zap.String("service", serviceName),
			zap.String("endpoint", endpoint),
		)
	}
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return tracerProvider.Shutdown(ctx)
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartHTTPSpan starts a server span from an incoming request, extracting
// any upstream trace context from its headers.
func StartHTTPSpan(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return otel.Tracer("coursequery/http").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		),
	)
}

// InjectTraceparent propagates the current trace context onto an outgoing
// request's headers.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// StartStage starts a child span for a retrieval pipeline stage.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer("coursequery/retrieval").Start(ctx, stage,
		trace.WithAttributes(attribute.String("retrieval.stage", stage)),
	)
}
