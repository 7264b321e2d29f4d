package exporter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/run-bigpig/testtrace/pkg/config"
	"github.com/run-bigpig/testtrace/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var (
	testTraceID = trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	testSpanID  = trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
	childSpanID = trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
)

func spanContext(spanID trace.SpanID) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func testSpans() []sdktrace.ReadOnlySpan {
	start := time.Date(2019, 1, 25, 10, 0, 0, 0, time.UTC)
	res := resource.NewSchemaless(attribute.String("service.name", "gotest"))

	return tracetest.SpanStubs{
		{
			Name:        "subprocess",
			SpanContext: spanContext(childSpanID),
			Parent:      spanContext(testSpanID),
			StartTime:   start.Add(time.Millisecond),
			EndTime:     start.Add(time.Second),
			Attributes: []attribute.KeyValue{
				attribute.String("subprocess.command", `/bin/bash -c "sleep 1"`),
				attribute.String("subprocess.status", "0"),
			},
			Resource: res,
		},
		{
			Name:           "TestSubprocessTracing",
			SpanContext:    spanContext(testSpanID),
			StartTime:      start,
			EndTime:        start.Add(2 * time.Second),
			ChildSpanCount: 1,
			Attributes: []attribute.KeyValue{
				attribute.String("pytest.result", "passed"),
				attribute.Int("retries", 2),
			},
			Resource: res,
		},
	}.Snapshots()
}

func TestToLegacy(t *testing.T) {
	traces := ToLegacy(testSpans())
	require.Len(t, traces, 1)
	assert.Equal(t, testTraceID.String(), traces[0].TraceID)
	require.Len(t, traces[0].Spans, 2)

	child := traces[0].Spans[0]
	assert.Equal(t, "subprocess", child.Name())
	assert.Equal(t, childSpanID.String(), child.SpanID)
	assert.Equal(t, testSpanID.String(), child.ParentSpanID)
	require.NotNil(t, child.SameProcessAsParentSpan)
	assert.True(t, *child.SameProcessAsParentSpan)
	assert.Equal(t, "2019-01-25T10:00:00.001Z", child.StartTime)

	root := traces[0].Spans[1]
	assert.Empty(t, root.ParentSpanID)
	assert.Equal(t, 1, root.ChildSpanCount)

	want := map[string]string{"pytest.result": "passed", "retries": "2"}
	if diff := cmp.Diff(want, root.Attrs()); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacyGroupsByTraceID(t *testing.T) {
	other := trace.TraceID{0x01}
	spans := tracetest.SpanStubs{
		{Name: "a", SpanContext: spanContext(testSpanID)},
		{Name: "b", SpanContext: trace.NewSpanContext(trace.SpanContextConfig{TraceID: other, SpanID: childSpanID})},
		{Name: "c", SpanContext: spanContext(childSpanID)},
	}.Snapshots()

	traces := ToLegacy(spans)
	require.Len(t, traces, 2)
	assert.Len(t, traces[0].Spans, 2)
	assert.Equal(t, other.String(), traces[1].TraceID)
}

func TestToLegacyErrorStatus(t *testing.T) {
	spans := tracetest.SpanStubs{
		{
			Name:        "[http]GET",
			SpanContext: spanContext(testSpanID),
			SpanKind:    trace.SpanKindClient,
			Status:      sdktrace.Status{Code: codes.Error, Description: "boom"},
		},
	}.Snapshots()

	span := ToLegacy(spans)[0].Spans[0]
	assert.Equal(t, kindClient, span.Kind)
	require.NotNil(t, span.Status)
	assert.Equal(t, "boom", span.Status.Message)
}

func TestFileExporterAppendsOneLinePerBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	exp := NewFileExporter(path)
	spans := testSpans()

	require.NoError(t, exp.ExportSpans(context.Background(), spans[:1]))
	require.NoError(t, exp.ExportSpans(context.Background(), spans[1:]))
	require.NoError(t, exp.ExportSpans(context.Background(), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"parentSpanId"`)
	assert.NotContains(t, lines[1], `"parentSpanId"`)
	assert.Contains(t, lines[1], `"attributeMap":{"pytest.result":{"string_value":{"value":"passed","truncated_byte_count":0}}`)

	traces, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "subprocess", traces[0].Spans[0].Name())
	assert.Equal(t, `/bin/bash -c "sleep 1"`, traces[0].Spans[0].Attrs()["subprocess.command"])
	assert.Equal(t, traces[0].TraceID, traces[1].TraceID)
}

func TestFileExporterKeepsExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"traceId":"previous","spans":[]}`+"\n"), 0o600))

	exp := NewFileExporter(path)
	require.NoError(t, exp.ExportSpans(context.Background(), testSpans()))

	traces, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "previous", traces[0].TraceID)
}

func TestFileExporterShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	exp := NewFileExporter(path)

	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.ExportSpans(context.Background(), testSpans()))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileExporterWriteError(t *testing.T) {
	exp := NewFileExporter(filepath.Join(t.TempDir(), "missing", "traces.json"))
	err := exp.ExportSpans(context.Background(), testSpans())
	assert.ErrorContains(t, err, "failed to open trace file")
}

func TestReadFileErrors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"traceId\":\"a\",\"spans\":[]}\n\nnot json\n"), 0o600))
	_, err = ReadFile(path)
	assert.ErrorContains(t, err, "line 3")
}

func TestNewPicksFileSink(t *testing.T) {
	cfg := config.Default()
	cfg.TraceFile = filepath.Join(t.TempDir(), "out.json")

	sink, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, SinkFile, sink.Name)
	assert.False(t, sink.Batch)

	fe, ok := sink.Exporter.(*FileExporter)
	require.True(t, ok)
	assert.Equal(t, cfg.TraceFile, fe.Path())
}

func TestZipkinSink(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = string(data), r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.CollectorEndpoint = strings.TrimPrefix(srv.URL, "http://")

	m := metrics.New()
	sink, err := New(context.Background(), cfg, m)
	require.NoError(t, err)
	assert.Equal(t, SinkZipkin, sink.Name)
	assert.True(t, sink.Batch)

	require.NoError(t, sink.Exporter.ExportSpans(context.Background(), testSpans()))
	require.NoError(t, sink.Exporter.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, config.DefaultZipkinPath, path)
	// zipkin span names are lowercase
	assert.Contains(t, body, `"name":"testsubprocesstracing"`)
	assert.Contains(t, body, `"pytest.result":"passed"`)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SpansExported.WithLabelValues(SinkZipkin)))
}

func TestOTLPSink(t *testing.T) {
	cfg := config.Default()
	cfg.CollectorEndpoint = "127.0.0.1"
	cfg.CollectorProtocol = config.ProtocolOTLP

	sink, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, SinkOTLP, sink.Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sink.Exporter.Shutdown(ctx)
}

func TestCollectorExporterUnknownProtocol(t *testing.T) {
	cfg := config.Default()
	cfg.CollectorEndpoint = "collector"
	cfg.CollectorProtocol = "carrier-pigeon"

	_, err := NewCollectorExporter(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrUnknownProtocol)
}

type failingExporter struct{}

func (failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return errors.New("collector unavailable")
}

func (failingExporter) Shutdown(context.Context) error { return nil }

func TestInstrumentedCountsFailures(t *testing.T) {
	m := metrics.New()
	exp := Instrumented(failingExporter{}, "zipkin", m)

	err := exp.ExportSpans(context.Background(), testSpans())
	assert.EqualError(t, err, "collector unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportFailures.WithLabelValues("zipkin")))

	assert.Equal(t, failingExporter{}, Instrumented(failingExporter{}, "zipkin", nil))
}
