// Package testtrace traces go test runs. Wire it from TestMain:
//
//	func TestMain(m *testing.M) {
//		os.Exit(testtrace.Main(m))
//	}
//
// and open a span per test with Trace:
//
//	func TestSomething(t *testing.T) {
//		ctx := testtrace.Trace(t)
//		resp, err := instrument.HTTPClient().Do(req.WithContext(ctx))
//		...
//	}
package testtrace

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/run-bigpig/testtrace/pkg/flaky"
	"github.com/run-bigpig/testtrace/pkg/outcome"
	"github.com/run-bigpig/testtrace/pkg/tracing"
)

// Plugin connects go test to a tracing controller
type Plugin struct {
	controller *tracing.Controller
	tagger     *outcome.Tagger
	jiraPrefix string

	mu      sync.Mutex
	running map[string]*running
	pending map[string]*flaky.Expectation
}

// running is a traced test that has not finished yet
type running struct {
	item *outcome.Item
	ctx  context.Context
}

// Option configures a Plugin
type Option func(*Plugin)

// WithJiraPrefix sets the issue key prefix required on flaky markers
func WithJiraPrefix(prefix string) Option {
	return func(p *Plugin) {
		p.jiraPrefix = prefix
	}
}

// NewPlugin creates a Plugin opening spans through c
func NewPlugin(c *tracing.Controller, opts ...Option) *Plugin {
	p := &Plugin{
		controller: c,
		tagger: outcome.NewTagger(c,
			outcome.WithMetrics(c.Metrics()),
			outcome.WithLogger(c.Logger()),
		),
		jiraPrefix: flaky.DefaultJiraPrefix,
		running:    make(map[string]*running),
		pending:    make(map[string]*flaky.Expectation),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Default is the plugin behind the package level functions
var Default = NewPlugin(tracing.Default)

// Controller returns the tracing controller
func (p *Plugin) Controller() *tracing.Controller {
	return p.controller
}

// Trace opens a span for t. A subtest is nested under the span of its parent
// test when the parent is traced too. The span ends in t's cleanup, tagged with
// the test outcome.
func (p *Plugin) Trace(t testing.TB) context.Context {
	t.Helper()
	return p.TraceFrom(p.parentContext(t.Name()), t)
}

// TraceFrom is Trace with an explicit parent context
func (p *Plugin) TraceFrom(ctx context.Context, t testing.TB) context.Context {
	t.Helper()
	name := t.Name()

	item := outcome.NewItem(name)
	ctx = p.tagger.Begin(ctx, item)

	p.mu.Lock()
	if e, ok := p.pending[name]; ok {
		item.SetExpectation(e)
		delete(p.pending, name)
	}
	p.running[name] = &running{item: item, ctx: ctx}
	p.mu.Unlock()

	t.Cleanup(func() {
		p.mu.Lock()
		delete(p.running, name)
		p.mu.Unlock()

		p.tagger.Report(item, resultOf(t))
		p.tagger.Finish(item)
	})
	return ctx
}

// Flaky marks t as known to fail intermittently. An invalid marker fails the
// test immediately. A failure of a marked test is recorded as skipped on its
// span; go test itself still sees the failure.
func (p *Plugin) Flaky(t testing.TB, m flaky.Marker) {
	t.Helper()
	if err := m.Validate(p.jiraPrefix); err != nil {
		t.Fatalf("invalid flaky marker: %v", err)
		return
	}

	e := m.Expectation()
	t.Logf("flaky: %s (strict=%t)", e.Reason, e.Strict)

	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.running[t.Name()]; ok {
		r.item.SetExpectation(e)
		return
	}
	p.pending[t.Name()] = e
}

// parentContext returns the context of the closest traced ancestor of the named test
func (p *Plugin) parentContext(name string) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		i := strings.LastIndexByte(name, '/')
		if i < 0 {
			return context.Background()
		}
		name = name[:i]
		if r, ok := p.running[name]; ok {
			return r.ctx
		}
	}
}

// Annotate sets an attribute on the span of the test ctx belongs to, even when
// ctx carries a span nested below it. Outside a traced test it does nothing.
func Annotate(ctx context.Context, key, value string) {
	item := outcome.ItemFrom(ctx)
	if item == nil {
		return
	}
	if span := item.Span(); span != nil {
		span.SetAttribute(key, value)
	}
}

func resultOf(t testing.TB) outcome.Outcome {
	switch {
	case t.Skipped():
		return outcome.Skipped
	case t.Failed():
		return outcome.Failed
	default:
		return outcome.Passed
	}
}

// Trace opens a span for t using the default plugin
func Trace(t testing.TB) context.Context {
	t.Helper()
	return Default.Trace(t)
}

// TraceFrom opens a span for t under ctx using the default plugin
func TraceFrom(ctx context.Context, t testing.TB) context.Context {
	t.Helper()
	return Default.TraceFrom(ctx, t)
}

// Flaky marks t as flaky using the default plugin
func Flaky(t testing.TB, m flaky.Marker) {
	t.Helper()
	Default.Flaky(t, m)
}
