package tracing

import (
	"github.com/run-bigpig/testtrace/pkg/interfaces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps an OpenTelemetry span. The zero value and a nil *Span are inert:
// every method is a no-op, so callers never need to check whether tracing is on.
type Span struct {
	span trace.Span
}

var _ interfaces.Span = (*Span)(nil)

func (s *Span) inert() bool {
	return s == nil || s.span == nil
}

// SetAttribute sets a string attribute. Writes after End are ignored.
func (s *Span) SetAttribute(key, value string) {
	if s.inert() {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

// RecordError records err on the span and marks it as failed
func (s *Span) RecordError(err error) {
	if s.inert() || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span
func (s *Span) End(opts ...trace.SpanEndOption) {
	if s.inert() {
		return
	}
	s.span.End(opts...)
}

// IsRecording reports whether the span is live and recording
func (s *Span) IsRecording() bool {
	return !s.inert() && s.span.IsRecording()
}

// SpanContext returns the span identifiers, or an invalid SpanContext for an inert span
func (s *Span) SpanContext() trace.SpanContext {
	if s.inert() {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}
