package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExport(t *testing.T) {
	r := New()

	r.RecordExport("file", 3, nil)
	r.RecordExport("file", 1, nil)
	r.RecordExport("zipkin", 5, errors.New("connection refused"))

	assert.Equal(t, 4.0, testutil.ToFloat64(r.SpansExported.WithLabelValues("file")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.SpansExported.WithLabelValues("zipkin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ExportFailures.WithLabelValues("zipkin")))
}

func TestRecordTest(t *testing.T) {
	r := New()

	r.RecordTest("passed")
	r.RecordTest("passed")
	r.RecordTest("failed")
	r.RecordTracingError()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Tests.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Tests.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TracingErrors))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordExport("file", 1, nil)
		r.RecordTest("passed")
		r.RecordTracingError()
	})
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordTest("skipped")

	path := filepath.Join(t.TempDir(), "testtrace.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `testtrace_tests_total{result="skipped"} 1`)
}
