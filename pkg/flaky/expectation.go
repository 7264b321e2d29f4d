package flaky

import "github.com/run-bigpig/testtrace/pkg/outcome"

// Expectation is an expected failure attached to a test
type Expectation struct {
	// Reason is shown when the failure is excused, "<jira> - <reason>"
	Reason string

	// Strict turns an unexpected pass into a failure
	Strict bool
}

var _ outcome.Resolver = (*Expectation)(nil)

// Resolve maps the raw outcome of the test onto the reported one:
//
//	failed  -> skipped (expected failure)
//	passed  -> passed, or failed when strict
//	skipped -> skipped
func (e *Expectation) Resolve(raw outcome.Outcome) outcome.Outcome {
	switch raw {
	case outcome.Failed:
		return outcome.Skipped
	case outcome.Passed:
		if e.Strict {
			return outcome.Failed
		}
		return outcome.Passed
	default:
		return raw
	}
}

// Excuses reports whether raw is a failure that the expectation turns into
// something else. A nil expectation excuses nothing.
func (e *Expectation) Excuses(raw outcome.Outcome) bool {
	if e == nil {
		return false
	}
	return raw == outcome.Failed && e.Resolve(raw) != outcome.Failed
}
