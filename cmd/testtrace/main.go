// testtrace runs go test with tracing and inspects the resulting trace files.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Build-time variables set via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	err := newRootCmd(deps{}).Execute()
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
