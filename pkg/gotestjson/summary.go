package gotestjson

import (
	"github.com/run-bigpig/testtrace/pkg/outcome"
)

// Summary is the tally of a consumed stream
type Summary struct {
	// Counts holds the number of tests per reported outcome
	Counts map[outcome.Outcome]int

	// Excused lists tests whose failure a flaky marker turned into a skip
	Excused []string

	// Failures lists tests reported as failed
	Failures []string

	// PackageFailures lists packages that failed without a failing test,
	// for example on a build error or a panic in TestMain
	PackageFailures []string
}

func newSummary() Summary {
	return Summary{Counts: make(map[outcome.Outcome]int)}
}

// Failed reports whether the run has a failure no flaky marker excuses
func (s Summary) Failed() bool {
	return len(s.Failures) > 0 || len(s.PackageFailures) > 0
}

// Total returns the number of finished tests
func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}
