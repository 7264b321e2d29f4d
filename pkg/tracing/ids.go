package tracing

import (
	"context"
	"encoding/binary"
	"math/rand/v2"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// runIDGenerator hands out the same trace id for every root span, so all spans
// opened by one test run belong to a single trace.
type runIDGenerator struct {
	traceID trace.TraceID
}

var _ sdktrace.IDGenerator = (*runIDGenerator)(nil)

// newRunIDGenerator mints the run trace id from a random UUID
func newRunIDGenerator() *runIDGenerator {
	id := uuid.New()
	var tid trace.TraceID
	copy(tid[:], id[:])
	return &runIDGenerator{traceID: tid}
}

// NewIDs implements sdktrace.IDGenerator
func (g *runIDGenerator) NewIDs(context.Context) (trace.TraceID, trace.SpanID) {
	return g.traceID, newSpanID()
}

// NewSpanID implements sdktrace.IDGenerator
func (g *runIDGenerator) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	return newSpanID()
}

func newSpanID() trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		binary.BigEndian.PutUint64(sid[:], rand.Uint64())
	}
	return sid
}
