package main

import (
	"fmt"

	"github.com/run-bigpig/testtrace/pkg/instrument"
	"github.com/spf13/cobra"
)

// deps holds what tests replace
type deps struct {
	runner instrument.Runner
}

// exitError carries a process exit code without an error message
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "testtrace",
		Short:         "Trace go test runs with OpenTelemetry",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(d))
	root.AddCommand(newInspectCmd())
	root.AddCommand(newFlakyCmd())
	return root
}
