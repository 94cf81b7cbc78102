package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgesprint"

// StartSprintSpan starts a span covering one sprint run, from the phase it
// entered the run in until a terminal state or error.
func StartSprintSpan(ctx context.Context, sprintID int64, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sprint",
		trace.WithAttributes(
			attribute.Int64("sprint.id", sprintID),
			attribute.String("sprint.phase", phase),
		),
	)
}

// StartPhaseSpan starts a span for one phase step within a sprint run.
func StartPhaseSpan(ctx context.Context, sprintID int64, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase",
		trace.WithAttributes(
			attribute.Int64("sprint.id", sprintID),
			attribute.String("phase", phase),
		),
	)
}

// StartInvocationSpan starts a span for one agent invocation.
func StartInvocationSpan(ctx context.Context, sprintID int64, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "invocation",
		trace.WithAttributes(
			attribute.Int64("sprint.id", sprintID),
			attribute.String("invocation.role", role),
		),
	)
}
