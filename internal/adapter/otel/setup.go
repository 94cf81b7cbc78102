// Package otel provides OpenTelemetry instrumentation: HTTP middleware,
// span helpers for sprint and phase execution, and metric instruments.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Spans and metrics go to
// the global providers; deployments that run a collector install an OTLP
// exporter before calling this.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
