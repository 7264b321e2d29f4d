package interfaces

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Tracer opens spans nested under the span carried by the context
type Tracer interface {
	// StartSpan starts a new span and returns a new context containing the span.
	// When tracing is disabled the returned span is inert and ctx is returned unchanged.
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents a span in a trace
type Span interface {
	// End ends the span. Calls after the first are ignored.
	End(opts ...trace.SpanEndOption)

	// SetAttribute sets a string attribute on the span
	SetAttribute(key, value string)

	// IsRecording reports whether the span records attributes and will be exported
	IsRecording() bool

	// SpanContext returns the identifiers of the span
	SpanContext() trace.SpanContext
}
