package outcome

import (
	"sync"

	"github.com/run-bigpig/testtrace/pkg/interfaces"
)

// Item is one test being traced. It holds the test span and the outcome
// stashed by the last report.
type Item struct {
	// Name is the span name, normally the test name
	Name string

	// Expectation, when set, resolves the raw outcome before it is recorded
	Expectation Resolver

	mu       sync.Mutex
	span     interfaces.Span
	result   Outcome
	reported bool
	finished bool
}

// NewItem creates an Item named name
func NewItem(name string) *Item {
	return &Item{Name: name}
}

// SetExpectation sets the resolver applied to later reports
func (i *Item) SetExpectation(r Resolver) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Expectation = r
}

// Result returns the stashed outcome and whether one was reported
func (i *Item) Result() (Outcome, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result, i.reported
}

// Span returns the item's own span, nil before Begin
func (i *Item) Span() interfaces.Span {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.span
}
