// Package exporter provides the sinks finished test spans are written to: a local
// line-delimited JSON file or a remote trace collector.
package exporter

import (
	"context"

	"github.com/run-bigpig/testtrace/pkg/config"
	"github.com/run-bigpig/testtrace/pkg/metrics"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sink names, also used as metric labels
const (
	SinkFile   = "file"
	SinkZipkin = config.ProtocolZipkin
	SinkOTLP   = config.ProtocolOTLP
)

// Sink is an exporter together with how it should be driven
type Sink struct {
	// Exporter accepts batches of finished spans
	Exporter sdktrace.SpanExporter

	// Name identifies the sink in logs and metrics
	Name string

	// Batch is true when spans should be buffered before export (remote sinks).
	// Local sinks are driven synchronously so every finished span is one line.
	Batch bool
}

// Option returns the tracer provider option that registers the sink
func (s Sink) Option() sdktrace.TracerProviderOption {
	if s.Batch {
		return sdktrace.WithBatcher(s.Exporter)
	}
	return sdktrace.WithSyncer(s.Exporter)
}

// New picks the sink for cfg: the collector when an endpoint is set, the local file otherwise
func New(ctx context.Context, cfg config.Config, m *metrics.Recorder) (Sink, error) {
	if !cfg.UsesCollector() {
		path := cfg.TraceFile
		if path == "" {
			path = config.DefaultTraceFile
		}
		return Sink{
			Exporter: Instrumented(NewFileExporter(path), SinkFile, m),
			Name:     SinkFile,
		}, nil
	}

	exp, err := NewCollectorExporter(ctx, cfg)
	if err != nil {
		return Sink{}, err
	}
	return Sink{
		Exporter: Instrumented(exp, cfg.Protocol(), m),
		Name:     cfg.Protocol(),
		Batch:    true,
	}, nil
}

// instrumented counts exported spans and failures of the wrapped exporter
type instrumented struct {
	sdktrace.SpanExporter
	sink    string
	metrics *metrics.Recorder
}

// Instrumented wraps exp so every export is recorded in m. A nil recorder returns exp unchanged.
func Instrumented(exp sdktrace.SpanExporter, sink string, m *metrics.Recorder) sdktrace.SpanExporter {
	if m == nil {
		return exp
	}
	return &instrumented{SpanExporter: exp, sink: sink, metrics: m}
}

// ExportSpans implements sdktrace.SpanExporter
func (e *instrumented) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.SpanExporter.ExportSpans(ctx, spans)
	e.metrics.RecordExport(e.sink, len(spans), err)
	return err
}
