package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// FileExporter appends finished spans to a local file, one legacy JSON trace per line.
// The file is opened and closed on every export; no handle is held between flushes.
type FileExporter struct {
	path string

	mu      sync.Mutex
	stopped bool
}

// NewFileExporter creates a FileExporter writing to path
func NewFileExporter(path string) *FileExporter {
	return &FileExporter{path: path}
}

// Path returns the file the exporter appends to
func (e *FileExporter) Path() string {
	return e.path
}

// ExportSpans implements sdktrace.SpanExporter
func (e *FileExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}

	var buf []byte
	for _, t := range ToLegacy(spans) {
		line, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trace: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G302 - trace files are meant to be shared
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}

	return nil
}

// Shutdown implements sdktrace.SpanExporter. Later exports are dropped.
func (e *FileExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return ctx.Err()
}
