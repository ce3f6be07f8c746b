package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("%s.%s", service, operation)
	return otel.Tracer(service).Start(ctx, spanName, trace.WithAttributes(
		attribute.String("service.operation", operation),
		attribute.String("component", "service"),
	))
}

// StartEntitySpan starts a span for a per-entity analysis operation
func StartEntitySpan(ctx context.Context, operation, entityID string) (context.Context, trace.Span) {
	return otel.Tracer("analysis").Start(ctx, operation, trace.WithAttributes(
		attribute.String("entity.id", entityID),
		attribute.String("component", "analysis"),
	))
}

// StartStorageSpan starts a span for baseline or risk store operations
func StartStorageSpan(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("store.%s", operation)
	return otel.Tracer("storage").Start(ctx, spanName, trace.WithAttributes(
		attribute.String("store.operation", operation),
		attribute.String("store.backend", backend),
		attribute.String("span.kind", "client"),
	))
}

// WithSpanError is a helper to record errors and set span status
func WithSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
