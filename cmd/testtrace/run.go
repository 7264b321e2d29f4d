package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/run-bigpig/testtrace/pkg/config"
	"github.com/run-bigpig/testtrace/pkg/flaky"
	"github.com/run-bigpig/testtrace/pkg/gotestjson"
	"github.com/run-bigpig/testtrace/pkg/instrument"
	"github.com/run-bigpig/testtrace/pkg/logging"
	"github.com/run-bigpig/testtrace/pkg/metrics"
	"github.com/run-bigpig/testtrace/pkg/outcome"
	"github.com/run-bigpig/testtrace/pkg/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

var defaultTestCommand = []string{"go", "test", "-json", "./..."}

type runOptions struct {
	traceFlags  *config.Flags
	markersFile string
	metricsFile string
	quiet       bool
}

func newRunCmd(d deps) *cobra.Command {
	opts := &runOptions{}
	goFlags := flag.NewFlagSet("trace", flag.ContinueOnError)
	opts.traceFlags = config.RegisterFlags(goFlags)

	cmd := &cobra.Command{
		Use:   "run [flags] [-- go test -json ./...]",
		Short: "Run a go test -json command and trace every test",
		Long: `Run starts the given command, which must write go test -json events to
stdout, and records one span per package and per test. Failures of tests
listed in the --flaky markers file are excused. The exit status is non-zero
when any failure is not excused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultTestCommand
			}
			return runTests(cmd, d, opts, args)
		},
	}

	traceFlags := pflag.NewFlagSet("trace", pflag.ContinueOnError)
	traceFlags.AddGoFlagSet(goFlags)
	cmd.Flags().AddFlagSet(traceFlags)
	cmd.Flags().StringVar(&opts.markersFile, "flaky", "", "YAML file listing flaky tests")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not echo test output")
	return cmd
}

func runTests(cmd *cobra.Command, d deps, opts *runOptions, argv []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// trace flags are parsed by cobra through pflag, so ask it what was set
	cfg, err := opts.traceFlags.ResolveWith(cmd.Flags().Changed)
	if err != nil {
		return fmt.Errorf("invalid trace configuration: %w", err)
	}

	var markers *flaky.Set
	if opts.markersFile != "" {
		markers, err = flaky.LoadFile(opts.markersFile)
		if err != nil {
			return err
		}
		if err := markers.Validate(); err != nil {
			return fmt.Errorf("invalid flaky markers: %w", err)
		}
	}

	logger := logging.New(logging.WithLevel(cfg.LogLevel), logging.WithWriter(cmd.ErrOrStderr()))
	m := metrics.New()
	regOpts := []instrument.RegistryOption{}
	if d.runner != nil {
		regOpts = append(regOpts, instrument.WithBaseRunner(d.runner))
	}
	reg := instrument.NewRegistry(regOpts...)

	controller := tracing.NewController(
		tracing.WithLogger(logger),
		tracing.WithMetrics(m),
		tracing.WithRegistry(reg),
	)
	handle, err := controller.Initialize(ctx, cfg)
	if err != nil {
		return err
	}

	var output io.Writer
	if !opts.quiet {
		output = cmd.OutOrStdout()
	}
	driver := gotestjson.NewDriver(
		outcome.NewTagger(controller, outcome.WithMetrics(m), outcome.WithLogger(logger)),
		gotestjson.WithMarkers(markers),
		gotestjson.WithOutput(output),
		gotestjson.WithLogger(logger),
	)

	summary, res, runErr := stream(ctx, reg.Runner(), driver, argv, cmd.ErrOrStderr())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil && !errors.Is(err, tracing.ErrNotInitialized) {
		logger.Error(ctx, "Failed to flush trace", map[string]interface{}{"error": err.Error()})
	}

	if opts.metricsFile != "" {
		if err := m.WriteTextfile(opts.metricsFile); err != nil {
			logger.Error(ctx, "Failed to write metrics", map[string]interface{}{"error": err.Error()})
		}
	}

	if runErr != nil {
		return runErr
	}

	printSummary(cmd.ErrOrStderr(), summary, handle)

	switch {
	case summary.Failed():
		return &exitError{code: 1}
	case res.ExitCode != 0 && summary.Total() == 0:
		// the command failed before producing any test result
		return &exitError{code: res.ExitCode}
	default:
		return nil
	}
}

// stream runs argv and feeds its stdout to the driver while it runs
func stream(ctx context.Context, runner instrument.Runner, driver *gotestjson.Driver, argv []string, stderr io.Writer) (gotestjson.Summary, *instrument.Result, error) {
	pr, pw := io.Pipe()

	type consumed struct {
		summary gotestjson.Summary
		err     error
	}
	done := make(chan consumed, 1)
	go func() {
		summary, err := driver.Consume(ctx, pr)
		// unblock the writer if the driver stopped early
		_ = pr.CloseWithError(io.ErrClosedPipe)
		done <- consumed{summary: summary, err: err}
	}()

	res, err := runner.Run(ctx, argv, instrument.WithStdout(pw), instrument.WithStderr(stderr))
	_ = pw.Close()
	c := <-done

	if err != nil {
		return c.summary, res, fmt.Errorf("failed to run tests: %w", err)
	}
	if c.err != nil {
		return c.summary, res, c.err
	}
	return c.summary, res, nil
}

func printSummary(w io.Writer, s gotestjson.Summary, h *tracing.Handle) {
	fmt.Fprintf(w, "testtrace: %d passed, %d failed, %d skipped",
		s.Counts[outcome.Passed], s.Counts[outcome.Failed], s.Counts[outcome.Skipped])
	if n := len(s.Excused); n > 0 {
		fmt.Fprintf(w, " (%d flaky failures excused)", n)
	}
	fmt.Fprintln(w)

	for _, name := range s.Failures {
		fmt.Fprintf(w, "  FAIL %s\n", name)
	}
	for _, name := range s.PackageFailures {
		fmt.Fprintf(w, "  FAIL %s (package)\n", name)
	}
	if h != nil {
		fmt.Fprintf(w, "testtrace: trace %s exported to %s\n", h.TraceID(), h.Sink())
	}
}
