// Package tracing owns the lifecycle of test-run tracing: it builds the tracer
// provider and exporter once per process, installs the I/O interceptors and opens
// the spans that make up a run.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/run-bigpig/testtrace/pkg/config"
	"github.com/run-bigpig/testtrace/pkg/exporter"
	"github.com/run-bigpig/testtrace/pkg/instrument"
	"github.com/run-bigpig/testtrace/pkg/interfaces"
	"github.com/run-bigpig/testtrace/pkg/logging"
	"github.com/run-bigpig/testtrace/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer every span is opened with
const InstrumentationName = "github.com/run-bigpig/testtrace"

// Controller holds the process-wide tracing state. Initialize builds it once;
// after that StartSpan opens spans against it. A disabled controller stays
// disabled for the rest of the process.
type Controller struct {
	mu       sync.Mutex
	handle   *Handle
	disabled bool

	registry *instrument.Registry
	logger   logging.Logger
	metrics  *metrics.Recorder
	sink     *exporter.Sink
	globals  bool
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithRegistry sets the registry the interceptors are installed into
func WithRegistry(reg *instrument.Registry) Option {
	return func(c *Controller) {
		c.registry = reg
	}
}

// WithSink replaces the exporter selected from the configuration
func WithSink(sink exporter.Sink) Option {
	return func(c *Controller) {
		c.sink = &sink
	}
}

// WithGlobals controls whether Initialize registers the provider, propagator and
// error handler with the otel package globals. It is on by default.
func WithGlobals(enabled bool) Option {
	return func(c *Controller) {
		c.globals = enabled
	}
}

// NewController creates an uninitialized Controller
func NewController(opts ...Option) *Controller {
	c := &Controller{
		registry: instrument.Default,
		logger:   logging.New(),
		globals:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default is the controller used by the go test integration
var Default = NewController()

// Initialize builds the tracing state from cfg. Only the first call reads the
// configuration: later calls return the existing handle, or nil once tracing has
// been disabled. A nil handle with a nil error means tracing is off.
func (c *Controller) Initialize(ctx context.Context, cfg config.Config) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return c.handle, nil
	}
	if ls, ok := c.logger.(logging.LevelSetter); ok && cfg.LogLevel != "" {
		ls.SetLevel(cfg.LogLevel)
	}
	if c.disabled || cfg.DisableTracing {
		c.disabled = true
		c.logger.Debug(ctx, "Tracing disabled", nil)
		return nil, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// the exporter is built last: once it exists the provider owns it
	sink, err := c.buildSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	ids := newRunIDGenerator()
	tp := sdktrace.NewTracerProvider(
		sink.Option(),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(ids),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prop := propagation.TraceContext{}
	tracer := tp.Tracer(InstrumentationName)

	if c.globals {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(c.handleError))
	}

	if !c.registry.InstallRunner(instrument.NewTracedRunner(c.registry.BaseRunner(), tracer)) {
		c.logger.Debug(ctx, "Subprocess interceptor already installed", nil)
	}
	if !c.registry.InstallTransport(instrument.NewTransport(c.registry.BaseTransport(), tp, prop)) {
		c.logger.Debug(ctx, "HTTP interceptor already installed", nil)
	}

	c.handle = &Handle{
		provider:   tp,
		tracer:     tracer,
		propagator: prop,
		traceID:    ids.traceID,
		tags:       ParseTags(cfg.Tags),
		sink:       sink.Name,
	}

	c.logger.Info(ctx, "Tracing initialized", map[string]interface{}{
		"trace_id": ids.traceID.String(),
		"sink":     sink.Name,
		"service":  serviceName,
		"tags":     len(c.handle.tags),
	})
	return c.handle, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
}

func (c *Controller) buildSink(ctx context.Context, cfg config.Config) (exporter.Sink, error) {
	if c.sink != nil {
		return *c.sink, nil
	}
	return exporter.New(ctx, cfg, c.metrics)
}

// handleError receives errors the SDK cannot return to a caller, such as a
// failed export. They are logged and counted; the run itself is unaffected.
func (c *Controller) handleError(err error) {
	c.metrics.RecordTracingError()
	c.logger.Error(context.Background(), "Tracing error", map[string]interface{}{
		"error": err.Error(),
	})
}

// Handle returns the tracing state, or nil before initialization or when disabled
func (c *Controller) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Disabled reports whether tracing has been switched off for this process
func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Logger returns the controller's logger
func (c *Controller) Logger() logging.Logger {
	return c.logger
}

// Metrics returns the controller's metrics recorder, which may be nil
func (c *Controller) Metrics() *metrics.Recorder {
	return c.metrics
}

// Registry returns the registry holding the interceptors
func (c *Controller) Registry() *instrument.Registry {
	return c.registry
}

// StartSpan implements interfaces.Tracer. The span is nested under the span
// carried by ctx and carries every run tag.
func (c *Controller) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, interfaces.Span) {
	return c.Start(ctx, name, opts...)
}

// Start is StartSpan returning the concrete span type
func (c *Controller) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	h := c.Handle()
	if h == nil {
		return ctx, &Span{}
	}

	if len(h.tags) > 0 {
		opts = append(opts, trace.WithAttributes(h.tags.Attributes()...))
	}
	ctx, span := h.tracer.Start(ctx, name, opts...)
	return ctx, &Span{span: span}
}

// WithSpan runs fn inside a span named name. The span ends when fn returns,
// fails or panics; an error returned by fn is recorded and passed through.
func (c *Controller) WithSpan(ctx context.Context, name string, fn func(context.Context, interfaces.Span) error) error {
	ctx, span := c.Start(ctx, name)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ErrNotInitialized is returned by Shutdown when there is nothing to shut down
var ErrNotInitialized = errors.New("tracing not initialized")

// Shutdown flushes buffered spans and stops the exporter
func (c *Controller) Shutdown(ctx context.Context) error {
	h := c.Handle()
	if h == nil {
		return ErrNotInitialized
	}
	if err := h.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	c.logger.Debug(ctx, "Tracing shut down", map[string]interface{}{
		"trace_id": h.traceID.String(),
	})
	return nil
}
