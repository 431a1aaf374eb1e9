package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "staffdesk"

// StartBatchSpan starts a span for a provisioning batch.
func StartBatchSpan(ctx context.Context, batchID string, requested int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision.batch",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.requested", requested),
		),
	)
}

// StartRequestSpan starts a span for a single signup request within a batch.
func StartRequestSpan(ctx context.Context, requestID int64, email string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision.request",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.String("request.email", email),
		),
	)
}

// StartDirectorySpan starts a span for an identity directory call.
func StartDirectorySpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "directory."+operation)
}
