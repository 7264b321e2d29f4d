package instrument

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Subprocess span name and attributes
const (
	SpanSubprocess = "subprocess"
	AttrCommand    = "subprocess.command"
	AttrStatus     = "subprocess.status"
)

// TracedRunner wraps a Runner so every command runs inside a "subprocess" span
// nested under the span carried by the context.
type TracedRunner struct {
	Base   Runner
	Tracer trace.Tracer
}

// NewTracedRunner creates a TracedRunner. A nil tracer makes it a pass-through.
func NewTracedRunner(base Runner, tracer trace.Tracer) *TracedRunner {
	return &TracedRunner{Base: base, Tracer: tracer}
}

// Run implements Runner. The result and error of the wrapped runner are returned
// unchanged; subprocess.status is only recorded when the command produced one.
func (r *TracedRunner) Run(ctx context.Context, argv []string, opts ...RunOption) (*Result, error) {
	base := r.Base
	if base == nil {
		base = ExecRunner{}
	}
	if r.Tracer == nil {
		return base.Run(ctx, argv, opts...)
	}

	ctx, span := r.Tracer.Start(ctx, SpanSubprocess)
	defer span.End()

	span.SetAttributes(attribute.String(AttrCommand, JoinCommandLine(argv)))

	res, err := base.Run(ctx, argv, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	span.SetAttributes(attribute.String(AttrStatus, strconv.Itoa(res.ExitCode)))
	return res, nil
}
