package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Handle is the live tracing state of a run. It exists only when tracing is enabled.
type Handle struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	traceID    trace.TraceID
	tags       TagSet
	sink       string
}

// Tracer returns the tracer spans are opened with
func (h *Handle) Tracer() trace.Tracer {
	return h.tracer
}

// TracerProvider returns the provider owning the exporter
func (h *Handle) TracerProvider() *sdktrace.TracerProvider {
	return h.provider
}

// Propagator returns the propagator used for outgoing requests
func (h *Handle) Propagator() propagation.TextMapPropagator {
	return h.propagator
}

// TraceID returns the trace id shared by every span of the run
func (h *Handle) TraceID() trace.TraceID {
	return h.traceID
}

// Tags returns a copy of the run tags
func (h *Handle) Tags() TagSet {
	tags := make(TagSet, len(h.tags))
	for k, v := range h.tags {
		tags[k] = v
	}
	return tags
}

// Sink returns the name of the exporter in use
func (h *Handle) Sink() string {
	return h.sink
}

// ForceFlush exports every finished span still buffered
func (h *Handle) ForceFlush(ctx context.Context) error {
	return h.provider.ForceFlush(ctx)
}
