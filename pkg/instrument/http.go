package instrument

import (
	"context"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTP span attributes
const (
	AttrHTTPURL        = "http.url"
	AttrHTTPStatusCode = "http.status_code"

	httpSpanPrefix = "[http]"
)

// HTTPSpanName returns the span name used for an outgoing request with the given method
func HTTPSpanName(method string) string {
	return httpSpanPrefix + method
}

// NewTransport returns a RoundTripper that opens one client span per request under
// the span carried by the request context, injects the propagation header and
// records http.url and http.status_code. The span ends when the response body
// is closed or read to EOF.
func NewTransport(base http.RoundTripper, provider trace.TracerProvider, propagator propagation.TextMapPropagator) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	return otelhttp.NewTransport(
		&attributeTransport{base: base},
		otelhttp.WithTracerProvider(httpProvider{TracerProvider: provider}),
		otelhttp.WithPropagators(propagator),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return HTTPSpanName(r.Method)
		}),
	)
}

// attributeTransport runs inside the otelhttp span and records the string
// attributes existing trace consumers key on.
type attributeTransport struct {
	base http.RoundTripper
}

func (t *attributeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	span := trace.SpanFromContext(req.Context())
	span.SetAttributes(attribute.String(AttrHTTPURL, req.URL.String()))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	span.SetAttributes(attribute.String(AttrHTTPStatusCode, strconv.Itoa(resp.StatusCode)))
	return resp, nil
}

// httpAttributes are the only attributes kept on HTTP spans; otelhttp's own
// semantic convention attributes are dropped.
var httpAttributes = map[attribute.Key]bool{
	AttrHTTPURL:        true,
	AttrHTTPStatusCode: true,
}

func keepHTTPAttributes(kvs []attribute.KeyValue) []attribute.KeyValue {
	kept := kvs[:0:0]
	for _, kv := range kvs {
		if httpAttributes[kv.Key] {
			kept = append(kept, kv)
		}
	}
	return kept
}

type httpProvider struct {
	trace.TracerProvider
}

func (p httpProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return httpTracer{Tracer: p.TracerProvider.Tracer(name, opts...)}
}

type httpTracer struct {
	trace.Tracer
}

func (t httpTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	start := []trace.SpanStartOption{
		trace.WithSpanKind(cfg.SpanKind()),
		trace.WithAttributes(keepHTTPAttributes(cfg.Attributes())...),
		trace.WithLinks(cfg.Links()...),
	}
	if ts := cfg.Timestamp(); !ts.IsZero() {
		start = append(start, trace.WithTimestamp(ts))
	}
	if cfg.NewRoot() {
		start = append(start, trace.WithNewRoot())
	}

	ctx, span := t.Tracer.Start(ctx, name, start...)
	wrapped := httpSpan{Span: span}
	return trace.ContextWithSpan(ctx, wrapped), wrapped
}

type httpSpan struct {
	trace.Span
}

func (s httpSpan) SetAttributes(kvs ...attribute.KeyValue) {
	s.Span.SetAttributes(keepHTTPAttributes(kvs)...)
}
