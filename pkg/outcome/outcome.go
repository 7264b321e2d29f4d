// Package outcome tags test spans with how the test ended.
package outcome

import (
	"fmt"
	"strings"
)

// Outcome is the final result of a test
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// ResultKey is the span attribute holding the outcome. The name predates this
// package and is kept so existing dashboards keep working.
const ResultKey = "pytest.result"

// Parse converts s into an Outcome
func Parse(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case Passed, Failed, Skipped:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Resolver maps the raw outcome of a test onto the reported one, for example
// for tests that are expected to fail intermittently.
type Resolver interface {
	Resolve(raw Outcome) Outcome
}
