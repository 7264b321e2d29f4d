// Package gotestjson turns the event stream of `go test -json` into test spans.
package gotestjson

import (
	"time"

	"github.com/run-bigpig/testtrace/pkg/outcome"
)

// Event actions emitted by test2json
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBench       = "bench"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// Event is one line of `go test -json` output
type Event struct {
	Time        time.Time `json:",omitempty"`
	Action      string
	Package     string  `json:",omitempty"`
	Test        string  `json:",omitempty"`
	Elapsed     float64 `json:",omitempty"`
	Output      string  `json:",omitempty"`
	ImportPath  string  `json:",omitempty"`
	FailedBuild string  `json:",omitempty"`
}

// IsTerminal reports whether the event ends a test or package
func (e Event) IsTerminal() bool {
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	default:
		return false
	}
}

// Outcome maps a terminal action onto a test outcome. Other actions have no
// outcome and return the empty string.
func (e Event) Outcome() outcome.Outcome {
	switch e.Action {
	case ActionPass:
		return outcome.Passed
	case ActionFail:
		return outcome.Failed
	case ActionSkip:
		return outcome.Skipped
	default:
		return ""
	}
}
