package exporter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// LegacyTrace is one line of a trace file: a batch of spans sharing a trace id.
// The layout follows the legacy JSON trace format understood by the existing
// trace tooling (displayName.value, attributes.attributeMap, ...).
type LegacyTrace struct {
	TraceID string       `json:"traceId"`
	Spans   []LegacySpan `json:"spans"`
}

// LegacySpan is a finished span in the legacy trace format
type LegacySpan struct {
	DisplayName             TruncatableString `json:"displayName"`
	SpanID                  string            `json:"spanId"`
	ParentSpanID            string            `json:"parentSpanId,omitempty"`
	StartTime               string            `json:"startTime"`
	EndTime                 string            `json:"endTime"`
	ChildSpanCount          int               `json:"childSpanCount"`
	Kind                    int               `json:"kind"`
	SameProcessAsParentSpan *bool             `json:"sameProcessAsParentSpan,omitempty"`
	Attributes              LegacyAttributes  `json:"attributes"`
	Status                  *LegacyStatus     `json:"status,omitempty"`
}

// TruncatableString is a string value with the number of bytes dropped from it
type TruncatableString struct {
	Value              string `json:"value"`
	TruncatedByteCount int    `json:"truncated_byte_count"`
}

// LegacyAttributes wraps the attribute map of a span
type LegacyAttributes struct {
	AttributeMap map[string]AttributeValue `json:"attributeMap"`
}

// AttributeValue holds a single attribute. Every value is written as a string.
type AttributeValue struct {
	StringValue *TruncatableString `json:"string_value,omitempty"`
}

// LegacyStatus is only written for failed spans
type LegacyStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Legacy span kinds
const (
	kindUnspecified = 0
	kindServer      = 1
	kindClient      = 2
)

// statusUnknown is the legacy status code used for errored spans
const statusUnknown = 2

// Name returns the span display name
func (s LegacySpan) Name() string {
	return s.DisplayName.Value
}

// Attrs flattens the attribute map into plain strings
func (s LegacySpan) Attrs() map[string]string {
	attrs := make(map[string]string, len(s.Attributes.AttributeMap))
	for k, v := range s.Attributes.AttributeMap {
		if v.StringValue != nil {
			attrs[k] = v.StringValue.Value
		}
	}
	return attrs
}

// ToLegacy converts finished spans to legacy traces, one per trace id, in the
// order the trace ids first appear.
func ToLegacy(spans []sdktrace.ReadOnlySpan) []LegacyTrace {
	var traces []LegacyTrace
	index := make(map[trace.TraceID]int)

	for _, span := range spans {
		traceID := span.SpanContext().TraceID()
		i, ok := index[traceID]
		if !ok {
			i = len(traces)
			index[traceID] = i
			traces = append(traces, LegacyTrace{TraceID: traceID.String()})
		}
		traces[i].Spans = append(traces[i].Spans, legacySpan(span))
	}

	return traces
}

func legacySpan(span sdktrace.ReadOnlySpan) LegacySpan {
	out := LegacySpan{
		DisplayName:    TruncatableString{Value: span.Name()},
		SpanID:         span.SpanContext().SpanID().String(),
		StartTime:      formatTime(span.StartTime()),
		EndTime:        formatTime(span.EndTime()),
		ChildSpanCount: span.ChildSpanCount(),
		Kind:           legacyKind(span.SpanKind()),
		Attributes: LegacyAttributes{
			AttributeMap: make(map[string]AttributeValue, len(span.Attributes())),
		},
	}

	if parent := span.Parent(); parent.IsValid() {
		out.ParentSpanID = parent.SpanID().String()
		same := !parent.IsRemote()
		out.SameProcessAsParentSpan = &same
	}

	for _, kv := range span.Attributes() {
		out.Attributes.AttributeMap[string(kv.Key)] = AttributeValue{
			StringValue: &TruncatableString{Value: kv.Value.Emit()},
		}
	}

	if status := span.Status(); status.Code == codes.Error {
		out.Status = &LegacyStatus{Code: statusUnknown, Message: status.Description}
	}

	return out
}

func legacyKind(kind trace.SpanKind) int {
	switch kind {
	case trace.SpanKindServer:
		return kindServer
	case trace.SpanKindClient:
		return kindClient
	default:
		return kindUnspecified
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// maxLineSize bounds a single trace file line
const maxLineSize = 16 * 1024 * 1024

// ReadFile decodes every line of a trace file
func ReadFile(path string) ([]LegacyTrace, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var traces []LegacyTrace
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t LegacyTrace
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("failed to decode trace file line %d: %w", line, err)
		}
		traces = append(traces, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	return traces, nil
}
