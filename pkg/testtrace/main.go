package testtrace

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/run-bigpig/testtrace/pkg/config"
	"github.com/run-bigpig/testtrace/pkg/tracing"
)

// shutdownTimeout bounds the final flush to a remote collector
const shutdownTimeout = 10 * time.Second

// Setup initializes tracing from cfg
func (p *Plugin) Setup(ctx context.Context, cfg config.Config) error {
	_, err := p.controller.Initialize(ctx, cfg)
	return err
}

// Teardown flushes and stops tracing. It is a no-op when tracing never started.
func (p *Plugin) Teardown(ctx context.Context) error {
	err := p.controller.Shutdown(ctx)
	if errors.Is(err, tracing.ErrNotInitialized) {
		return nil
	}
	return err
}

// Main registers the tracing flags, initializes tracing, runs the tests and
// flushes the trace. It returns the exit code for os.Exit.
func (p *Plugin) Main(m *testing.M) int {
	return p.main(flag.CommandLine, os.Args[1:], m.Run)
}

func (p *Plugin) main(fs *flag.FlagSet, args []string, run func() int) int {
	flags := config.RegisterFlags(fs)
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return 2
		}
	}

	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "testtrace: invalid configuration: %v\n", err)
		return 2
	}

	ctx := context.Background()
	if err := p.Setup(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "testtrace: %v\n", err)
		return 1
	}

	code := run()

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := p.Teardown(ctx); err != nil {
		p.controller.Logger().Error(ctx, "Failed to flush trace", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return code
}

// Main runs m with tracing using the default plugin
func Main(m *testing.M) int {
	return Default.Main(m)
}
