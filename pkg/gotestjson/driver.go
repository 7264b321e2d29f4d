package gotestjson

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/run-bigpig/testtrace/pkg/flaky"
	"github.com/run-bigpig/testtrace/pkg/logging"
	"github.com/run-bigpig/testtrace/pkg/outcome"
	"go.opentelemetry.io/otel/trace"
)

// maxLineSize bounds a single event line; test output can be long
const maxLineSize = 16 * 1024 * 1024

// Driver replays a `go test -json` stream as spans: one span per package and
// one per test, nested under its package or parent test, ended at the event
// timestamps and tagged with the outcome.
type Driver struct {
	tagger  *outcome.Tagger
	markers *flaky.Set
	output  io.Writer
	logger  logging.Logger
}

// Option configures a Driver
type Option func(*Driver)

// WithMarkers applies flaky markers to the tests they name
func WithMarkers(s *flaky.Set) Option {
	return func(d *Driver) {
		d.markers = s
	}
}

// WithOutput echoes test output to w
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		d.output = w
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a Driver recording spans through tagger
func NewDriver(tagger *outcome.Tagger, opts ...Option) *Driver {
	d := &Driver{
		tagger: tagger,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type testState struct {
	name        string
	item        *outcome.Item
	ctx         context.Context
	expectation *flaky.Expectation

	failedChildren  int
	excusedChildren int

	// set when the test was reported while subtests were still open
	pending bool
	raw     outcome.Outcome
	at      time.Time
}

type packageState struct {
	name  string
	item  *outcome.Item
	ctx   context.Context
	tests map[string]*testState

	failures int
	excused  int
}

// run is the state of one Consume call
type run struct {
	d        *Driver
	ctx      context.Context
	packages map[string]*packageState
	order    []string
	summary  Summary
	last     time.Time
}

// Consume reads events from r until EOF. Lines that are not JSON events are
// echoed as output. Tests and packages still open at the end of the stream are
// closed as failed.
func (d *Driver) Consume(ctx context.Context, r io.Reader) (Summary, error) {
	st := &run{
		d:        d,
		ctx:      ctx,
		packages: make(map[string]*packageState),
		summary:  newSummary(),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			st.closeAll()
			return st.summary, err
		}

		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Action == "" {
			d.echo(string(line) + "\n")
			continue
		}
		st.handle(ev)
	}

	st.closeAll()
	if err := scanner.Err(); err != nil {
		return st.summary, fmt.Errorf("failed to read test events: %w", err)
	}
	return st.summary, nil
}

func (d *Driver) echo(s string) {
	if d.output == nil || s == "" {
		return
	}
	_, _ = io.WriteString(d.output, s)
}

func (st *run) handle(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	st.last = ev.Time

	switch ev.Action {
	case ActionOutput, ActionBuildOutput:
		st.d.echo(ev.Output)
		return
	case ActionBuildFail:
		st.summary.PackageFailures = append(st.summary.PackageFailures, ev.ImportPath)
		return
	case ActionPause, ActionCont, ActionBench:
		return
	}

	if ev.Package == "" {
		return
	}
	pkg := st.pkg(ev.Package, ev.Time)

	switch {
	case ev.Action == ActionStart:
		// package span already opened by pkg
	case ev.Action == ActionRun && ev.Test != "":
		st.startTest(pkg, ev.Test, ev.Time)
	case ev.IsTerminal() && ev.Test != "":
		st.finishTest(pkg, ev.Test, ev.Outcome(), ev.Time)
	case ev.IsTerminal():
		st.finishPackage(pkg, ev.Outcome(), ev.Time)
	}
}

// pkg returns the state of the named package, opening its span on first sight
func (st *run) pkg(name string, at time.Time) *packageState {
	if p, ok := st.packages[name]; ok {
		return p
	}

	item := outcome.NewItem(name)
	p := &packageState{
		name:  name,
		item:  item,
		ctx:   st.d.tagger.Begin(st.ctx, item, trace.WithTimestamp(at)),
		tests: make(map[string]*testState),
	}
	st.packages[name] = p
	st.order = append(st.order, name)
	return p
}

func (st *run) startTest(pkg *packageState, name string, at time.Time) {
	if _, ok := pkg.tests[name]; ok {
		return
	}

	parent := pkg.ctx
	if anc := pkg.ancestor(name); anc != nil {
		parent = anc.ctx
	}

	item := outcome.NewItem(name)
	ts := &testState{name: name, item: item}
	if e := st.d.markers.Expectation(pkg.name, name); e != nil {
		ts.expectation = e
		item.SetExpectation(e)
	}
	ts.ctx = st.d.tagger.Begin(parent, item, trace.WithTimestamp(at))
	pkg.tests[name] = ts
}

func (st *run) finishTest(pkg *packageState, name string, raw outcome.Outcome, at time.Time) {
	ts, ok := pkg.tests[name]
	if !ok {
		// terminal event without a run event, seen for tests skipped by -run filters on subtests
		st.startTest(pkg, name, at)
		ts = pkg.tests[name]
	}
	if pkg.hasOpenSubtests(name) {
		// go test reports a parent before the results of its subtests
		ts.pending, ts.raw, ts.at = true, raw, at
		return
	}
	delete(pkg.tests, name)

	anc := pkg.ancestor(name)

	// a parent failing only because of excused subtests is excused as well
	if raw == outcome.Failed && ts.expectation == nil &&
		ts.excusedChildren > 0 && ts.failedChildren == ts.excusedChildren {
		ts.expectation = &flaky.Expectation{}
		ts.item.SetExpectation(ts.expectation)
	}

	result := st.d.tagger.Report(ts.item, raw)
	st.d.tagger.Finish(ts.item, trace.WithTimestamp(at))

	excused := ts.expectation.Excuses(raw)
	if raw == outcome.Failed {
		if anc != nil {
			anc.failedChildren++
			if excused {
				anc.excusedChildren++
			}
		}
		pkg.failures++
		if excused {
			pkg.excused++
		}
	}

	st.summary.Counts[result]++
	id := pkg.name + "." + name
	switch {
	case excused:
		st.summary.Excused = append(st.summary.Excused, id)
		st.d.logger.Info(st.ctx, "Excused flaky test failure", map[string]interface{}{
			"package": pkg.name,
			"test":    name,
		})
	case result == outcome.Failed:
		st.summary.Failures = append(st.summary.Failures, id)
	}

	if anc != nil && anc.pending && !pkg.hasOpenSubtests(anc.name) {
		end := anc.at
		if at.After(end) {
			end = at
		}
		st.finishTest(pkg, anc.name, anc.raw, end)
	}
}

func (st *run) finishPackage(pkg *packageState, raw outcome.Outcome, at time.Time) {
	// tests left open were interrupted, typically by a panic or timeout
	for _, name := range pkg.openTests() {
		// pending parents end with their last subtest
		if ts, ok := pkg.tests[name]; ok && !ts.pending {
			st.finishTest(pkg, name, outcome.Failed, at)
		}
	}

	result := raw
	if raw == outcome.Failed {
		switch {
		case pkg.failures == 0:
			st.summary.PackageFailures = append(st.summary.PackageFailures, pkg.name)
		case pkg.failures == pkg.excused:
			result = outcome.Skipped
		}
	}

	st.d.tagger.Report(pkg.item, result)
	st.d.tagger.Finish(pkg.item, trace.WithTimestamp(at))
	delete(st.packages, pkg.name)
}

// closeAll closes everything still open as failed
func (st *run) closeAll() {
	at := st.last
	if at.IsZero() {
		at = time.Now()
	}
	for _, name := range st.order {
		if pkg, ok := st.packages[name]; ok {
			st.finishPackage(pkg, outcome.Failed, at)
		}
	}
	st.order = nil
}

// ancestor returns the closest open ancestor of the named test
func (p *packageState) ancestor(name string) *testState {
	for {
		i := strings.LastIndexByte(name, '/')
		if i < 0 {
			return nil
		}
		name = name[:i]
		if ts, ok := p.tests[name]; ok {
			return ts
		}
	}
}

// hasOpenSubtests reports whether any subtest of the named test is still open
func (p *packageState) hasOpenSubtests(name string) bool {
	prefix := name + "/"
	for open := range p.tests {
		if strings.HasPrefix(open, prefix) {
			return true
		}
	}
	return false
}

// openTests lists open tests deepest first, so subtests end before their parents
func (p *packageState) openTests() []string {
	names := make([]string, 0, len(p.tests))
	for name := range p.tests {
		names = append(names, name)
	}
	sortDeepestFirst(names)
	return names
}

func sortDeepestFirst(names []string) {
	sort.Slice(names, func(i, j int) bool {
		di, dj := strings.Count(names[i], "/"), strings.Count(names[j], "/")
		if di != dj {
			return di > dj
		}
		return names[i] < names[j]
	})
}
