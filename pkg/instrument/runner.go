package instrument

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

var (
	// ErrEmptyCommand is returned when Run is called without a program
	ErrEmptyCommand = errors.New("empty command")
)

// Result describes a finished external command
type Result struct {
	// Argv is the command that was run
	Argv []string

	// ExitCode is the process exit status, -1 if it was killed by a signal
	ExitCode int

	// Stdout and Stderr hold the captured output unless a writer was supplied
	Stdout []byte
	Stderr []byte
}

// Runner runs external commands. A non-zero exit status is reported through
// Result.ExitCode, not as an error; errors mean the command could not be run
// or was interrupted.
type Runner interface {
	Run(ctx context.Context, argv []string, opts ...RunOption) (*Result, error)
}

// RunOption configures a single command
type RunOption func(*RunOptions)

// RunOptions is the resolved configuration of a command
type RunOptions struct {
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ApplyOptions resolves opts, for Runner implementations
func ApplyOptions(opts ...RunOption) RunOptions {
	var o RunOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDir sets the working directory
func WithDir(dir string) RunOption {
	return func(o *RunOptions) {
		o.Dir = dir
	}
}

// WithEnv sets the environment, in os.Environ format
func WithEnv(env []string) RunOption {
	return func(o *RunOptions) {
		o.Env = env
	}
}

// WithStdin connects r to the command's standard input
func WithStdin(r io.Reader) RunOption {
	return func(o *RunOptions) {
		o.Stdin = r
	}
}

// WithStdout streams standard output to w instead of capturing it
func WithStdout(w io.Writer) RunOption {
	return func(o *RunOptions) {
		o.Stdout = w
	}
}

// WithStderr streams standard error to w instead of capturing it
func WithStderr(w io.Writer) RunOption {
	return func(o *RunOptions) {
		o.Stderr = w
	}
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, argv []string, opts ...RunOption) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	o := ApplyOptions(opts...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 - running the caller's command is the point
	cmd.Dir = o.Dir
	cmd.Env = o.Env
	cmd.Stdin = o.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if o.Stdout != nil {
		cmd.Stdout = o.Stdout
	}
	if o.Stderr != nil {
		cmd.Stderr = o.Stderr
	}

	err := cmd.Run()
	res := &Result{Argv: argv}
	if o.Stdout == nil {
		res.Stdout = stdout.Bytes()
	}
	if o.Stderr == nil {
		res.Stderr = stderr.Bytes()
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return res, nil
	}

	return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
}
