package outcome

import (
	"context"

	"github.com/run-bigpig/testtrace/pkg/interfaces"
	"github.com/run-bigpig/testtrace/pkg/logging"
	"github.com/run-bigpig/testtrace/pkg/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Tagger opens a span per test item and records the item outcome on it
type Tagger struct {
	tracer  interfaces.Tracer
	metrics *metrics.Recorder
	logger  logging.Logger
}

// Option configures a Tagger
type Option func(*Tagger)

// WithMetrics counts finished tests in m
func WithMetrics(m *metrics.Recorder) Option {
	return func(t *Tagger) {
		t.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(t *Tagger) {
		t.logger = logger
	}
}

// NewTagger creates a Tagger opening spans with tracer
func NewTagger(tracer interfaces.Tracer, opts ...Option) *Tagger {
	t := &Tagger{
		tracer: tracer,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin opens the item span under the span carried by ctx. The returned context
// carries both the span and the item.
func (t *Tagger) Begin(ctx context.Context, item *Item, opts ...trace.SpanStartOption) context.Context {
	ctx, span := t.tracer.StartSpan(ctx, item.Name, opts...)

	item.mu.Lock()
	item.span = span
	item.mu.Unlock()

	return WithItem(ctx, item)
}

// Report stashes the outcome of one phase of the item. The item's expectation,
// if any, is applied first. The last report wins.
func (t *Tagger) Report(item *Item, raw Outcome) Outcome {
	item.mu.Lock()
	defer item.mu.Unlock()

	result := raw
	if item.Expectation != nil {
		result = item.Expectation.Resolve(raw)
	}
	item.result = result
	item.reported = true
	return result
}

// Finish attaches the stashed outcome to the item span and ends it. Nothing is
// attached when no outcome was reported or the span is not recording. Calls
// after the first are ignored.
func (t *Tagger) Finish(item *Item, opts ...trace.SpanEndOption) (Outcome, bool) {
	item.mu.Lock()
	if item.finished {
		item.mu.Unlock()
		return item.result, item.reported
	}
	item.finished = true
	span, result, reported := item.span, item.result, item.reported
	item.mu.Unlock()

	if span == nil {
		return result, reported
	}

	if reported {
		if span.IsRecording() {
			span.SetAttribute(ResultKey, string(result))
		}
		t.metrics.RecordTest(string(result))
	}
	span.End(opts...)

	t.logger.Debug(context.Background(), "Test finished", map[string]interface{}{
		"test":     item.Name,
		"result":   string(result),
		"reported": reported,
	})
	return result, reported
}

// Around runs body as the item: it opens the span, reports what body returns
// and finishes the item. A body that panics or exits its goroutine is reported
// as failed; a panic is re-raised once the span has ended.
func (t *Tagger) Around(ctx context.Context, item *Item, body func(context.Context) Outcome) Outcome {
	ctx = t.Begin(ctx, item)

	finished := false
	defer func() {
		if finished {
			return
		}
		// body panicked or called runtime.Goexit
		r := recover()
		t.Report(item, Failed)
		t.Finish(item)
		if r != nil {
			panic(r)
		}
	}()

	t.Report(item, body(ctx))
	result, _ := t.Finish(item)
	finished = true
	return result
}
