// Package telemetry defines the tracer capability the engine and consumer
// depend on, with a no-op default so neither hard-depends on a configured
// OpenTelemetry SDK.
package telemetry

import "context"

// Tracer starts and finishes spans around a unit of work. The returned
// completion callback must be invoked with the final error (if any).
type Tracer interface {
	StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func(error))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Noop is the default tracer used when none is configured.
var Noop Tracer = noopTracer{}
