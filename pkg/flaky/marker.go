// Package flaky handles tests that are known to fail intermittently. A test
// carrying a Marker still runs, but a failure is reported as skipped so it does
// not break the run.
package flaky

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultJiraPrefix is the issue key prefix every marker must reference
	DefaultJiraPrefix = "DCOS"

	// DateLayout is the layout of Marker.Since
	DateLayout = "2006-01-02"
)

var (
	// ErrMissingReason is returned when a marker has no reason
	ErrMissingReason = errors.New("flaky marker requires a reason")

	// ErrMissingJira is returned when a marker has no issue key
	ErrMissingJira = errors.New("flaky marker requires a jira issue")

	// ErrJiraPrefix is returned when the issue key has the wrong project prefix
	ErrJiraPrefix = errors.New("flaky marker jira issue has the wrong prefix")

	// ErrMissingSince is returned when a marker has no since date
	ErrMissingSince = errors.New("flaky marker requires a since date")

	// ErrInvalidSince is returned when the since date is not YYYY-MM-DD
	ErrInvalidSince = errors.New(`incorrect date format for "since", should be YYYY-MM-DD`)
)

// Marker declares a test as flaky
type Marker struct {
	// Jira is the issue tracking the flakiness, for example DCOS-1337
	Jira string `yaml:"jira" json:"jira"`

	// Reason describes the flakiness
	Reason string `yaml:"reason" json:"reason"`

	// Since is the date the test was marked, YYYY-MM-DD
	Since string `yaml:"since" json:"since"`

	// Strict turns an unexpected pass into a failure. Unset means false.
	Strict *bool `yaml:"strict,omitempty" json:"strict,omitempty"`
}

// Validate checks the marker. An empty prefix means DefaultJiraPrefix.
func (m Marker) Validate(prefix string) error {
	if prefix == "" {
		prefix = DefaultJiraPrefix
	}

	if m.Reason == "" {
		return ErrMissingReason
	}
	if m.Jira == "" {
		return ErrMissingJira
	}
	if !strings.HasPrefix(m.Jira, prefix) {
		return fmt.Errorf("%w: %q does not start with %q", ErrJiraPrefix, m.Jira, prefix)
	}
	if m.Since == "" {
		return ErrMissingSince
	}
	if _, err := time.Parse(DateLayout, m.Since); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSince, m.Since)
	}
	return nil
}

// IsStrict reports whether the marker is strict
func (m Marker) IsStrict() bool {
	return m.Strict != nil && *m.Strict
}

// Expectation returns the expectation the marker puts on its test
func (m Marker) Expectation() *Expectation {
	return &Expectation{
		Reason: m.Jira + " - " + m.Reason,
		Strict: m.IsStrict(),
	}
}
