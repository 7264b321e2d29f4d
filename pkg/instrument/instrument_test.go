package instrument

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestProvider() (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return tp, exporter
}

func attrs(kvs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found", name)
	return tracetest.SpanStub{}
}

func TestJoinCommandLine(t *testing.T) {
	tests := []struct {
		argv []string
		want string
	}{
		{[]string{"/bin/bash", "-c", "sleep 1"}, `/bin/bash -c "sleep 1"`},
		{[]string{"/bin/bash", "-c", "exit 1"}, `/bin/bash -c "exit 1"`},
		{[]string{"echo", ""}, `echo ""`},
		{[]string{"echo", `say "hi"`}, `echo "say \"hi\""`},
		{[]string{`a\b`, `c\\"d`}, `a\b c\\\\\"d`},
		{[]string{`dir with space\`}, `"dir with space\\"`},
		{[]string{"tab\there"}, "\"tab\there\""},
		{nil, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinCommandLine(tt.argv), "argv %q", tt.argv)
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	res, err := ExecRunner{}.Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))

	var stdout bytes.Buffer
	res, err = ExecRunner{}.Run(context.Background(), []string{"sh", "-c", "cat"},
		WithStdin(bytes.NewBufferString("piped")), WithStdout(&stdout))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Nil(t, res.Stdout)
	assert.Equal(t, "piped", stdout.String())
}

func TestExecRunnerErrors(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	res, err := ExecRunner{}.Run(context.Background(), []string{"/definitely/not/a/binary"})
	assert.Error(t, err)
	assert.Nil(t, res)
}

// fakeRunner returns a canned result without running anything
type fakeRunner struct {
	res   *Result
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ ...RunOption) (*Result, error) {
	f.calls = append(f.calls, argv)
	return f.res, f.err
}

func TestTracedRunnerRecordsSpan(t *testing.T) {
	tp, exporter := newTestProvider()
	base := &fakeRunner{res: &Result{ExitCode: 0}}
	runner := NewTracedRunner(base, tp.Tracer("test"))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "TestSubprocessTracing")
	res, err := runner.Run(ctx, []string{"/bin/bash", "-c", "sleep 1"})
	parent.End()

	require.NoError(t, err)
	assert.Same(t, base.res, res)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	sub := findSpan(t, spans, SpanSubprocess)
	assert.Equal(t, parent.SpanContext().SpanID(), sub.Parent.SpanID())
	assert.Equal(t, map[string]string{
		AttrCommand: `/bin/bash -c "sleep 1"`,
		AttrStatus:  "0",
	}, attrs(sub.Attributes))
}

func TestTracedRunnerNonZeroExit(t *testing.T) {
	tp, exporter := newTestProvider()
	runner := NewTracedRunner(&fakeRunner{res: &Result{ExitCode: 1}}, tp.Tracer("test"))

	res, err := runner.Run(context.Background(), []string{"/bin/bash", "-c", "exit 1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	sub := findSpan(t, exporter.GetSpans(), SpanSubprocess)
	assert.Equal(t, "1", attrs(sub.Attributes)[AttrStatus])
}

func TestTracedRunnerErrorStillClosesSpan(t *testing.T) {
	tp, exporter := newTestProvider()
	boom := errors.New("exec: not found")
	runner := NewTracedRunner(&fakeRunner{err: boom}, tp.Tracer("test"))

	res, err := runner.Run(context.Background(), []string{"missing"})
	assert.Same(t, boom, err, "error must propagate unchanged")
	assert.Nil(t, res)

	sub := findSpan(t, exporter.GetSpans(), SpanSubprocess)
	a := attrs(sub.Attributes)
	assert.Equal(t, "missing", a[AttrCommand])
	assert.NotContains(t, a, AttrStatus)
}

func TestTracedRunnerPassThroughWithoutTracer(t *testing.T) {
	base := &fakeRunner{res: &Result{ExitCode: 7}}
	runner := NewTracedRunner(base, nil)

	res, err := runner.Run(context.Background(), []string{"true"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Len(t, base.calls, 1)
}

func TestTransportRecordsChildSpans(t *testing.T) {
	var (
		mu           sync.Mutex
		traceparents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traceparents = append(traceparents, r.Header.Get("traceparent"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tp, exporter := newTestProvider()
	client := &http.Client{Transport: NewTransport(nil, tp, propagation.TraceContext{})}

	ctx, parent := tp.Tracer("test").Start(context.Background(), "TestHTTPTrace")
	for i := 0; i < 2; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/", nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		require.NoError(t, resp.Body.Close())
	}
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	for _, s := range spans[:2] {
		assert.Equal(t, HTTPSpanName(http.MethodGet), s.Name)
		assert.Equal(t, parent.SpanContext().SpanID(), s.Parent.SpanID())
		assert.Equal(t, map[string]string{
			AttrHTTPURL:        srv.URL + "/",
			AttrHTTPStatusCode: "200",
		}, attrs(s.Attributes))
		assert.Equal(t, trace.SpanKindClient, s.SpanKind)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, traceparents, 2)
	for _, h := range traceparents {
		assert.Contains(t, h, parent.SpanContext().TraceID().String())
	}
}

func TestTransportErrorClosesSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tp, exporter := newTestProvider()
	client := &http.Client{Transport: NewTransport(nil, tp, propagation.TraceContext{})}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	span := findSpan(t, exporter.GetSpans(), HTTPSpanName(http.MethodPost))
	assert.Equal(t, map[string]string{AttrHTTPURL: url}, attrs(span.Attributes))
}

func TestRegistryInstallsOnce(t *testing.T) {
	base := &fakeRunner{res: &Result{}}
	reg := NewRegistry(WithBaseRunner(base))

	assert.Same(t, base, reg.Runner())
	assert.Same(t, base, reg.BaseRunner())
	assert.Equal(t, http.DefaultTransport, reg.Transport())
	assert.Empty(t, reg.Kinds())

	first := NewTracedRunner(base, nil)
	assert.True(t, reg.InstallRunner(first))
	assert.False(t, reg.InstallRunner(NewTracedRunner(base, nil)))
	assert.Same(t, first, reg.Runner())
	assert.True(t, reg.Installed(KindSubprocess))
	assert.False(t, reg.Installed(KindHTTP))

	tp, _ := newTestProvider()
	rt := NewTransport(reg.BaseTransport(), tp, propagation.TraceContext{})
	assert.True(t, reg.InstallTransport(rt))
	assert.False(t, reg.InstallTransport(http.DefaultTransport))
	assert.Equal(t, rt, reg.Client().Transport)
	assert.Equal(t, []Kind{KindHTTP, KindSubprocess}, reg.Kinds())
}
