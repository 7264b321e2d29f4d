// Package metrics counts what the tracing layer does during a test run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run metrics on its own registry, so several recorders can
// coexist in one test binary.
type Recorder struct {
	registry *prometheus.Registry

	// SpansExported counts spans handed to a sink, by sink name
	SpansExported *prometheus.CounterVec

	// ExportFailures counts failed export calls, by sink name
	ExportFailures *prometheus.CounterVec

	// Tests counts finished test spans, by result
	Tests *prometheus.CounterVec

	// TracingErrors counts errors reported by the tracing SDK itself
	TracingErrors prometheus.Counter
}

// New creates a Recorder with a fresh registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		SpansExported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testtrace_spans_exported_total",
				Help: "Total number of spans handed to the trace sink",
			},
			[]string{"sink"},
		),
		ExportFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testtrace_export_failures_total",
				Help: "Total number of failed span exports",
			},
			[]string{"sink"},
		),
		Tests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testtrace_tests_total",
				Help: "Total number of traced tests by result",
			},
			[]string{"result"},
		),
		TracingErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testtrace_tracing_errors_total",
				Help: "Total number of errors reported by the tracing SDK",
			},
		),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordExport records the outcome of one export call
func (r *Recorder) RecordExport(sink string, spans int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.ExportFailures.WithLabelValues(sink).Inc()
		return
	}
	r.SpansExported.WithLabelValues(sink).Add(float64(spans))
}

// RecordTest records one finished test
func (r *Recorder) RecordTest(result string) {
	if r == nil {
		return
	}
	r.Tests.WithLabelValues(result).Inc()
}

// RecordTracingError records an error surfaced through the otel error handler
func (r *Recorder) RecordTracingError() {
	if r == nil {
		return
	}
	r.TracingErrors.Inc()
}

// WriteTextfile writes the metrics in the node_exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
